// Package config provides configuration loading and management services
package config

import (
	"context"
	"errors"
)

// Static errors for configuration package
var (
	ErrLoadNotImplemented           = errors.New("load method not yet implemented")
	ErrReloadNotImplemented         = errors.New("reload method not yet implemented")
	ErrValidateNotImplemented       = errors.New("validate method not yet implemented")
	ErrProvenanceNotImplemented     = errors.New("provenance method not yet implemented")
	ErrStructValidateNotImplemented = errors.New("struct validation not yet implemented")
	ErrFieldValidateNotImplemented  = errors.New("field validation not yet implemented")
	ErrStartWatchNotImplemented     = errors.New("start watch method not yet implemented")
	ErrStopWatchNotImplemented      = errors.New("stop watch method not yet implemented")
	ErrConfigTypeNotFound           = errors.New("config type not found")
)

// Loader implements the ConfigLoader interface with basic stub functionality
type Loader struct {
	sources    []*ConfigSource
	validators []ConfigValidator
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		sources:    make([]*ConfigSource, 0),
		validators: make([]ConfigValidator, 0),
	}
}

// Load reads no source and applies no validation; it always returns
// ErrLoadNotImplemented
func (l *Loader) Load(ctx context.Context, config interface{}) error {
	// TODO: Implement configuration loading from sources
	return ErrLoadNotImplemented
}

// Reload reads no source; it always returns ErrReloadNotImplemented
func (l *Loader) Reload(ctx context.Context, config interface{}) error {
	// TODO: Implement configuration reloading
	return ErrReloadNotImplemented
}

// Validate checks nothing; it always returns ErrValidateNotImplemented
func (l *Loader) Validate(ctx context.Context, config interface{}) error {
	// TODO: Implement configuration validation
	return ErrValidateNotImplemented
}

// GetProvenance tracks no provenance; it always returns nil and
// ErrProvenanceNotImplemented
func (l *Loader) GetProvenance(ctx context.Context, fieldPath string) (*FieldProvenance, error) {
	// TODO: Implement provenance tracking
	return nil, ErrProvenanceNotImplemented
}

// GetSources returns information about all configured configuration sources
func (l *Loader) GetSources(ctx context.Context) ([]*ConfigSource, error) {
	return l.sources, nil
}

// AddSource adds a configuration source to the loader
func (l *Loader) AddSource(source *ConfigSource) {
	l.sources = append(l.sources, source)
}

// AddValidator adds a configuration validator to the loader
func (l *Loader) AddValidator(validator ConfigValidator) {
	l.validators = append(l.validators, validator)
}

// Validator implements basic ConfigValidator interface
type Validator struct {
	rules map[string][]*ValidationRule
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		rules: make(map[string][]*ValidationRule),
	}
}

// ValidateStruct checks nothing; it always returns
// ErrStructValidateNotImplemented
func (v *Validator) ValidateStruct(ctx context.Context, config interface{}) error {
	// TODO: Implement struct validation
	return ErrStructValidateNotImplemented
}

// ValidateField checks nothing; it always returns
// ErrFieldValidateNotImplemented
func (v *Validator) ValidateField(ctx context.Context, fieldPath string, value interface{}) error {
	// TODO: Implement field validation
	return ErrFieldValidateNotImplemented
}

// GetValidationRules returns validation rules for the given configuration type
func (v *Validator) GetValidationRules(ctx context.Context, configType string) ([]*ValidationRule, error) {
	rules, exists := v.rules[configType]
	if !exists {
		return nil, ErrConfigTypeNotFound
	}
	return rules, nil
}

// AddRule adds a validation rule for a specific configuration type
func (v *Validator) AddRule(configType string, rule *ValidationRule) {
	if v.rules[configType] == nil {
		v.rules[configType] = make([]*ValidationRule, 0)
	}
	v.rules[configType] = append(v.rules[configType], rule)
}

// Reloader implements basic ConfigReloader interface
type Reloader struct {
	watching  bool
	callbacks []ReloadCallback
}

// NewReloader creates a new configuration reloader
func NewReloader() *Reloader {
	return &Reloader{
		watching:  false,
		callbacks: make([]ReloadCallback, 0),
	}
}

// StartWatch records callback and sets the watching flag, but watches no
// source and never calls callback; it always returns
// ErrStartWatchNotImplemented
func (r *Reloader) StartWatch(ctx context.Context, callback ReloadCallback) error {
	// TODO: Implement configuration watching
	r.callbacks = append(r.callbacks, callback)
	r.watching = true
	return ErrStartWatchNotImplemented
}

// StopWatch clears the watching flag; it always returns
// ErrStopWatchNotImplemented
func (r *Reloader) StopWatch(ctx context.Context) error {
	// TODO: Implement stopping configuration watch
	r.watching = false
	return ErrStopWatchNotImplemented
}

// IsWatching reports the flag StartWatch sets and StopWatch clears
func (r *Reloader) IsWatching() bool {
	return r.watching
}
