package config

import "time"

type Config struct {
	Service     *ServiceConfig
	Redis       *RedisConfig
	Postgres    *PostgresConfig
	Realtime    *RealtimeConfig
	Worker      *WorkerConfig
	Tracer      *TracerConfig
	Logger      *LoggerConfig
	SecretToken string
}

type ServiceConfig struct {
	Name string
	Env  string
	Addr string
	// ID distinguishes this process in presence records and bridge
	// frames. Generated per-process when unset.
	ID string
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// RealtimeConfig tunes the connection layer.
type RealtimeConfig struct {
	// EmitMessageErrors surfaces a message-error event to the sender
	// when a broadcast is dropped for lack of room membership. Off by
	// default: the drop is logged server-side only.
	EmitMessageErrors bool
	WriteTimeout      time.Duration
	PongTimeout       time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	SendBuffer        int
}

type WorkerConfig struct {
	MessageGroup string
}

type TracerConfig struct {
	Address string
}

type LoggerConfig struct {
	Level  string
	Format string
}
