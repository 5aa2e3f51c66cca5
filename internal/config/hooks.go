package config

import (
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// decodeHook builds the mapstructure hook chain used when unmarshaling.
// It extends the stock hooks with millisecond-integer durations so container
// deployments can set e.g. JOB_TIMEOUT=3600000.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		stringToDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// stringToDurationHookFunc converts strings to time.Duration. Plain integers
// are interpreted as milliseconds; anything else must be a Go duration string.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		s := data.(string)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	}
}
