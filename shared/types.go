package shared

type ServerConfig struct {
	Kontacts KontactsConfig `mapstructure:"kontacts" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mail     MailConfig     `mapstructure:"mail"`
	Avatar   AvatarConfig   `mapstructure:"avatar"`
	Google   GoogleConfig   `mapstructure:"google"`
	AWS      AWSConfig      `mapstructure:"aws"`
}

type KontactsConfig struct {
	PrivateKeyPem string         `mapstructure:"privateKeyPem" validate:"required"`
	BaseURL       string         `mapstructure:"baseURL" validate:"required,url"`
	OriginsURL    string         `mapstructure:"originsURL"`
	Cron          CronConfig     `mapstructure:"cron" validate:"required"`
	Listener      ListenerConfig `mapstructure:"listener" validate:"required"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Sqlite   SqliteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"sslMode"`
}

type SqliteConfig struct {
	PassPhrase string `mapstructure:"passPhrase"`
	Dir        string `mapstructure:"dir"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MailConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"omitempty,email"`
	FromName string `mapstructure:"fromName"`
	Port     int    `mapstructure:"port"`
	Server   string `mapstructure:"server"`
}

type AvatarConfig struct {
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=gcs s3"`
	Bucket   string `mapstructure:"bucket" validate:"required_with=Provider"`
	Prefix   string `mapstructure:"prefix"`
}

type CronConfig struct {
	TimeZone string `mapstructure:"timeZone" validate:"required"`
}

type ListenerConfig struct {
	Port int `mapstructure:"port" validate:"required"`
}

type GoogleConfig struct {
	ApplicationCredentials string        `mapstructure:"applicationCredentials"`
	Storage                StorageConfig `mapstructure:"storage"`
}

type StorageConfig struct {
	Bucket                    string `mapstructure:"bucket" validate:"required_with=EnableSqliteBackupAndSync"`
	Prefix                    string `mapstructure:"prefix" validate:"required_with=EnableSqliteBackupAndSync"`
	SqliteBackupSchedule      string `mapstructure:"sqliteBackupSchedule" validate:"required_with=EnableSqliteBackupAndSync"`
	EnableSqliteBackupAndSync bool   `mapstructure:"enableSqliteBackupAndSync"`
}

type AWSConfig struct {
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	Region    string `mapstructure:"region"`
}

// RedisEnabled reports whether a redis host is configured
func (config *ServerConfig) RedisEnabled() bool {
	return config.Redis.Host != ""
}

// MailEnabled reports whether an smtp server is configured
func (config *ServerConfig) MailEnabled() bool {
	return config.Mail.Server != ""
}
