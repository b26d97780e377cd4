package log

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// toFields converts a loose key/value list into zap fields.
//
//   - a zap.Field is passed through as-is
//   - a bare error becomes zap.Error(err)
//   - a trailing unpaired value is logged under "arg#<index>"
//   - a non-string key is kept together with its value under "invalid_key_<n>"
//   - string values under a masked key are shortened or replaced
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)

	for i := 0; i < len(args); {
		if f, ok := args[i].(zap.Field); ok {
			fields = append(fields, f)
			i++
			continue
		}

		if err, ok := args[i].(error); ok {
			fields = append(fields, zap.Error(err))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, val := args[i], args[i+1]
		i += 2

		keyStr, ok := key.(string)
		if !ok {
			fields = append(fields, zap.Any(fmt.Sprintf("invalid_key_%d", i/2), map[string]any{
				"key":   key,
				"value": val,
			}))
			continue
		}

		fields = append(fields, typedField(keyStr, mask(keyStr, val)))
	}

	return fields
}

func typedField(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case bool:
		return zap.Bool(key, v)
	case int:
		return zap.Int(key, v)
	case int32:
		return zap.Int32(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint:
		return zap.Uint(key, v)
	case uint32:
		return zap.Uint32(key, v)
	case uint64:
		return zap.Uint64(key, v)
	case float32:
		return zap.Float32(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case decimal.Decimal:
		return zap.String(key, v.String())
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	case []byte:
		return zap.ByteString(key, v)
	default:
		return zap.Any(key, v)
	}
}

const redacted = "**REDACTED**"

// secretKeys never reach the log in clear text.
var secretKeys = map[string]struct{}{
	"password":      {},
	"pin":           {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"authorization": {},
}

// mask keeps full VINs and credentials out of log output.
func mask(key string, val any) any {
	k := strings.ToLower(key)
	if _, ok := secretKeys[k]; ok {
		if s, ok := val.(string); ok && s == "" {
			return s
		}
		return redacted
	}
	if k == "vin" || strings.HasSuffix(k, "_vin") {
		if s, ok := val.(string); ok {
			return VIN(s)
		}
	}
	return val
}
