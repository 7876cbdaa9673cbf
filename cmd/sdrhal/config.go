package main

// this file contains all the code that directly uses the viper package

import (
	"time"

	"github.com/spf13/viper"

	"github.com/openrfx/sdrhal/internal/sshctl"
)

const configName = "sdrhal"

// loadConfig reads defaults from a TOML-formatted file called 'sdrhal.toml',
// looked up in /etc/sdrhal and then the current directory. Flags given on
// the command line still win over file values. Returns true if a config
// file was read.
func loadConfig() bool {
	viper.SetConfigName(configName)
	viper.AddConfigPath("/etc/sdrhal")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return false
	}

	if flagAddr == "" {
		flagAddr = viper.GetString("device.addr")
	}
	if flagLogLevel == "" {
		flagLogLevel = viper.GetString("log.level")
	}
	if v := viper.GetFloat64("stream.sample_rate"); v != 0 {
		sampleHz = v
	}
	if v := viper.GetString("telemetry.http"); v != "" {
		httpAddr = v
	}
	return true
}

// sshConfig reads the optional sysfs-over-SSH fallback settings. Returns
// nil when no SSH host is configured, which keeps GPIO and custom
// parameters on the stream endpoint's control ops.
func sshConfig() *sshctl.Config {
	host := viper.GetString("device.ssh.host")
	if host == "" {
		return nil
	}
	return &sshctl.Config{
		Host:      host,
		User:      viper.GetString("device.ssh.user"),
		Password:  viper.GetString("device.ssh.password"),
		KeyPath:   viper.GetString("device.ssh.key"),
		Port:      viper.GetInt("device.ssh.port"),
		SysfsRoot: viper.GetString("device.ssh.sysfs_root"),
	}
}

// dialTimeout reads the control timeout from the config file, defaulting
// when absent or nonsense.
func dialTimeout() time.Duration {
	d := viper.GetDuration("device.timeout")
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
