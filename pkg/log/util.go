package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Keys shared by every carthingy component so logs can be filtered per session or car.
const (
	KeySession = "session"
	KeyPlate   = "plate"
	KeyPhase   = "phase"
)

const redacted = "[REDACTED]"

// secretKeyParts mark keys whose values must never reach a log sink,
// such as the backend token, the MQTT password and the S3 secret key.
var secretKeyParts = []string{"token", "password", "secret", "authorization"}

// Session returns the field that identifies a query session.
func Session(id string) zap.Field { return zap.String(KeySession, id) }

// Plate returns a license plate field, uppercased.
func Plate(plate string) zap.Field { return plateField(plate) }

// toFields converts alternating keys and values to zap fields.
// zap.Field values pass through, a bare error becomes the "error" field and
// a trailing value without a key is kept under "!BADKEY".
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any("!BADKEY", args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields = append(fields, field(key, args[i+1]))
		i += 2
	}
	return fields
}

func field(key string, val any) zap.Field {
	switch {
	case isSecretKey(key):
		if s, ok := val.(string); ok && s == "" {
			return zap.String(key, "")
		}
		return zap.String(key, redacted)
	case key == KeyPlate:
		if s, ok := val.(string); ok {
			return plateField(s)
		}
	}
	if err, ok := val.(error); ok {
		return zap.NamedError(key, err)
	}
	return zap.Any(key, val)
}

func plateField(plate string) zap.Field {
	return zap.String(KeyPlate, strings.ToUpper(strings.TrimSpace(plate)))
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range secretKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}
