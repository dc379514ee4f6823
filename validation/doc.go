// Package validation checks configuration structs against their
// `validate` struct tags using go-playground/validator.
//
//	type Config struct {
//	    GetPolicy string `mapstructure:"get_policy" validate:"oneof=fresh cached"`
//	}
//	err := validation.Validate(cfg) // *errors.AppError with code INVALID_CONFIG
//
// Field names in messages follow the mapstructure tag, so they match the
// keys users write in config files.
package validation
