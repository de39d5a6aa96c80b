// Package validate checks device payloads against named schemas before they
// reach the trust layer.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/parse"
)

// Schema names accepted by Validate.
const (
	SchemaHeartbeat    = "heartbeat"
	SchemaRegistration = "registration"
)

var deviceIDRe = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// ErrUnknownSchema is returned for a schema name nobody registered.
var ErrUnknownSchema = errors.New("unknown schema")

// FieldError describes one offending field. It never carries the value.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Error is returned when a body does not satisfy its schema.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Field
	}
	return "invalid payload: " + strings.Join(names, ", ")
}

// HeartbeatPayload is the wire form of a heartbeat body.
type HeartbeatPayload struct {
	UptimeMs  *int64  `json:"uptime_ms" validate:"required,gte=0"`
	FwVersion string  `json:"fw_version" validate:"required,max=64"`
	FreeHeap  *int64  `json:"free_heap" validate:"omitempty,gte=0"`
	Status    string  `json:"status" validate:"required,opstatus"`
	IP        *string `json:"ip" validate:"omitempty,max=64"`
}

// Telemetry converts a validated payload into the ingestor's input.
func (p *HeartbeatPayload) Telemetry() model.Telemetry {
	t := model.Telemetry{
		FwVersion: p.FwVersion,
		FreeHeap:  p.FreeHeap,
		Status:    model.OperationalStatus(p.Status),
		IP:        p.IP,
	}
	if p.UptimeMs != nil {
		t.UptimeMs = *p.UptimeMs
	}
	return t
}

// RegistrationPayload is the wire form of a registration body.
type RegistrationPayload struct {
	EstablishmentID string `json:"establishment_id" validate:"required,max=64"`
	DeviceID        string `json:"device_id" validate:"omitempty,deviceid"`
}

type schema struct {
	newTarget func() any
	normalize func(any) error
}

// Validator decodes and validates request bodies by schema name.
type Validator struct {
	v       *validator.Validate
	schemas map[string]schema
}

// New creates a Validator with the built-in schemas registered.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("opstatus", func(fl validator.FieldLevel) bool {
		s := model.OperationalStatus(fl.Field().String())
		for _, known := range model.OperationalStatuses {
			if s == known {
				return true
			}
		}
		return false
	})

	_ = v.RegisterValidation("deviceid", func(fl validator.FieldLevel) bool {
		return deviceIDRe.MatchString(fl.Field().String())
	})

	return &Validator{
		v: v,
		schemas: map[string]schema{
			SchemaHeartbeat: {
				newTarget: func() any { return &HeartbeatPayload{} },
				normalize: normalizeHeartbeat,
			},
			SchemaRegistration: {
				newTarget: func() any { return &RegistrationPayload{} },
				normalize: normalizeRegistration,
			},
		},
	}
}

// Validate decodes body into the schema's payload type, normalizes it and
// checks it. It returns the normalized payload (a pointer to the schema's
// struct) or an *Error naming the offending fields.
func (v *Validator) Validate(schemaName string, body []byte) (any, error) {
	sc, ok := v.schemas[schemaName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, schemaName)
	}

	target := sc.newTarget()
	if err := json.Unmarshal(body, target); err != nil {
		return nil, decodeError(err)
	}
	if err := sc.normalize(target); err != nil {
		return nil, err
	}
	if err := v.v.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fieldErrors(verrs)
		}
		return nil, err
	}
	return target, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &Error{Fields: []FieldError{{Field: typeErr.Field, Rule: "type"}}}
	}
	return &Error{Fields: []FieldError{{Field: "body", Rule: "json"}}}
}

func fieldErrors(verrs validator.ValidationErrors) *Error {
	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	sort.Slice(out.Fields, func(i, j int) bool { return out.Fields[i].Field < out.Fields[j].Field })
	return out
}

func normalizeHeartbeat(target any) error {
	p := target.(*HeartbeatPayload)
	p.Status = strings.ToUpper(strings.TrimSpace(p.Status))
	if p.IP != nil {
		ip := strings.TrimSpace(*p.IP)
		if ip == "" {
			p.IP = nil
		} else {
			p.IP = &ip
		}
	}
	if strings.TrimSpace(p.FwVersion) == "" {
		p.FwVersion = ""
		return nil
	}
	fw, err := parse.ParseFirmwareVersion(p.FwVersion)
	if err != nil {
		return &Error{Fields: []FieldError{{Field: "fw_version", Rule: "required"}}}
	}
	p.FwVersion = fw.String()
	return nil
}

func normalizeRegistration(target any) error {
	p := target.(*RegistrationPayload)
	p.EstablishmentID = strings.TrimSpace(p.EstablishmentID)
	p.DeviceID = strings.TrimSpace(p.DeviceID)
	return nil
}
