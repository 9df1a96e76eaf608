package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"radartiler/internal/api"
	"radartiler/internal/upstream"
)

const (
	defaultConfigPath = "./conf/conf.toml"
	dotEnvFile        = ".env"
)

var conf *Conf

type Conf struct {
	App struct {
		Version string `mapstructure:"version"`
		Title   string `mapstructure:"title"`
	} `mapstructure:"app"`
	Server struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		CORSOrigins     []string      `mapstructure:"corsOrigins"`
	} `mapstructure:"server"`
	Upstream struct {
		URL       string        `mapstructure:"url"`
		Layer     string        `mapstructure:"layer"`
		APIKey    string        `mapstructure:"apiKey"`
		Timeout   time.Duration `mapstructure:"timeout"`
		Workers   int           `mapstructure:"workers"`
		UserAgent string        `mapstructure:"userAgent"`
		Breaker   struct {
			MaxFailures uint32        `mapstructure:"maxFailures"`
			Cooldown    time.Duration `mapstructure:"cooldown"`
		} `mapstructure:"breaker"`
	} `mapstructure:"upstream"`
	Manifest struct {
		Host string `mapstructure:"host"`
	} `mapstructure:"manifest"`
	Output struct {
		LogDir         string `mapstructure:"logDir"`
		OutputTerminal bool   `mapstructure:"outputTerminal"`
	} `mapstructure:"output"`
}

// UpstreamConfig is the tile client's view of the configuration.
func (c *Conf) UpstreamConfig() upstream.Config {
	return upstream.Config{
		URL:         c.Upstream.URL,
		Layer:       c.Upstream.Layer,
		APIKey:      c.Upstream.APIKey,
		Timeout:     c.Upstream.Timeout,
		UserAgent:   c.Upstream.UserAgent,
		MaxFailures: c.Upstream.Breaker.MaxFailures,
		Cooldown:    c.Upstream.Breaker.Cooldown,
	}
}

// InitConf loads the configuration into conf and exits on failure.
func InitConf(cfgFile string) {
	c, err := loadConf(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}
	conf = c
}

// loadConf reads defaults, then the TOML file, then the environment. A
// missing file is only an error when it was asked for explicitly.
func loadConf(cfgFile string) (*Conf, error) {
	if cfgFile == "" {
		cfgFile = defaultConfigPath
	}
	loadDotEnv(dotEnvFile)

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("upstream.apiKey", "OPENWEATHER_API_KEY")
	_ = v.BindEnv("upstream.layer", "TILE_LAYER")
	_ = v.BindEnv("manifest.host", "BASE_URL")

	if _, err := os.Stat(cfgFile); err == nil {
		v.SetConfigType("toml")
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file(%s): %w", cfgFile, err)
		}
	} else if cfgFile != defaultConfigPath {
		return nil, fmt.Errorf("config file(%s) not exist: %w", cfgFile, err)
	}

	c := new(Conf)
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if c.Upstream.Workers <= 0 {
		c.Upstream.Workers = 16
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.version", "v0.1.0")
	v.SetDefault("app.title", api.DefaultTitle)
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 60*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.corsOrigins", []string{"*"})
	v.SetDefault("upstream.url", upstream.DefaultURL)
	v.SetDefault("upstream.layer", upstream.DefaultLayer)
	v.SetDefault("upstream.apiKey", "")
	v.SetDefault("upstream.timeout", upstream.DefaultTimeout)
	v.SetDefault("upstream.workers", 16)
	v.SetDefault("upstream.userAgent", "radartiler/0.1")
	v.SetDefault("upstream.breaker.maxFailures", 20)
	v.SetDefault("upstream.breaker.cooldown", 30*time.Second)
	v.SetDefault("manifest.host", "http://localhost:8000")
	v.SetDefault("output.logDir", "")
	v.SetDefault("output.outputTerminal", true)
}

// loadDotEnv exports the variables of a .env file that are not already set
// in the environment.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %s\n", path, err)
		return
	}
	for _, k := range env.AllKeys() {
		name := strings.ToUpper(k)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		_ = os.Setenv(name, env.GetString(k))
	}
}
