package config

import "errors"

var (
	ErrParsingConfig   = errors.New("failed to parse environment variables into config")
	ErrConfigNotLoaded = errors.New("configuration has not been loaded")
	ErrNilPointer      = errors.New("nil pointer provided to config loader")
	ErrReadingFile     = errors.New("failed to read config file")
	ErrDecodingFile    = errors.New("failed to decode config file")
)
