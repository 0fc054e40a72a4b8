// Package config loads the bridge configuration: Defaults, then an optional
// YAML file, then UAV_API_* environment overrides, then Validate.
//
// Every timeout and poll interval the gateway, drain loop and relay use lives
// in TimingConfig so tests can shrink them without touching package code.
package config
