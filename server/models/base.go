package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	DEFAULT_SKIP  = 0
	DEFAULT_LIMIT = 100

	dateLayout = "2006-01-02"
)

// BaseModel timestamps stay out of JSON; models that expose one do so explicitly
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Date is a calendar date, serialized as YYYY-MM-DD
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	value := strings.Trim(string(data), `"`)
	if value == "null" || value == "" {
		*d = Date{}
		return nil
	}

	parsed, err := ParseDate(value)
	if err != nil {
		return fmt.Errorf("date must be formatted as YYYY-MM-DD: %v", err)
	}

	*d = parsed
	return nil
}

func (d Date) Value() (driver.Value, error) {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
}

func (d *Date) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = NewDate(v.Date())
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", value)
	}
	return nil
}

func (d *Date) scanString(value string) error {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		dateLayout,
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			*d = NewDate(t.Date())
			return nil
		}
	}

	return fmt.Errorf("cannot parse %q as Date", value)
}

func (Date) GormDataType() string {
	return "date"
}

// ---------------------------------------------------------------------------------//
// Scopes
// --------------------------------------------------------------------------------//

// paginate hands skip & limit to the store as given; gorm treats negative
// values as "no offset" / "no limit".
func paginate(skip, limit int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(skip).Limit(limit)
	}
}

func ownedBy(user *User) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", user.ID)
	}
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// datePart returns a SQL expression extracting 'month' or 'day' from column
// as an integer, for the dialect in use.
func datePart(db *gorm.DB, part, column string) string {
	if db.Dialector.Name() == "sqlite" {
		format := "%d"
		if part == "month" {
			format = "%m"
		}
		return fmt.Sprintf("CAST(strftime('%s', %s) AS INTEGER)", format, column)
	}

	return fmt.Sprintf("EXTRACT(%s FROM %s)", strings.ToUpper(part), column)
}

// foldedLike returns a case-insensitive substring condition on column & the
// pattern to bind to it, for the dialect in use.
func foldedLike(db *gorm.DB, column, query string) (string, string) {
	if db.Dialector.Name() == "sqlite" {
		return fmt.Sprintf("%s(COALESCE(%s, '')) LIKE ?", SQLITE_LOWER_FUNC, column),
			"%" + strings.ToLower(query) + "%"
	}

	return column + " ILIKE ?", "%" + query + "%"
}
