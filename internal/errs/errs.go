package errs

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/strct-org/adblock-tunnel/internal/httputil"
)

type Kind uint8

const (
	KindOther      Kind = iota // Unclassified (maps to 500)
	KindNetwork                // Device could not be established (503)
	KindPermission             // Host refused the tunnel (403)
	KindConflict               // Lifecycle transition already in progress (409)
	KindSystem                 // OS-level failures (exec, unsupported platform) (500)
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindSystem:
		return "system"
	default:
		return "other"
	}
}

type Op string

type Error struct {
	Op      Op     // Where did it happen?
	Kind    Kind   // What category?
	Err     error  // Underlying cause (may be another *Error, wraps correctly)
	Message string // Safe to show to the user / frontend
}

func E(args ...any) error {
	e := &Error{}
	for _, arg := range args {
		switch v := arg.(type) {
		case Op:
			e.Op = v
		case Kind:
			e.Kind = v
		case *Error:
			cp := *v
			e.Err = &cp
		case error:
			e.Err = v
		case string:
			e.Message = v
		}
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(string(e.Op))
	}
	if e.Message != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the outermost *Error with a Kind set, or
// KindOther.
func KindOf(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return KindOther
		}
		if e.Kind != KindOther {
			return e.Kind
		}
		err = e.Err
	}
	return KindOther
}

func HTTPResponse(w http.ResponseWriter, err error) {
	slog.Error("errs: request failed", "err", err)

	code := kindToStatus(KindOf(err))
	msg := "internal server error"

	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			msg = e.Message
		} else if code != http.StatusInternalServerError && e.Err != nil {
			msg = e.Err.Error()
		}
	}

	httputil.Error(w, code, msg)
}

func kindToStatus(k Kind) int {
	switch k {
	case KindPermission:
		return http.StatusForbidden // 403
	case KindConflict:
		return http.StatusConflict // 409
	case KindNetwork:
		return http.StatusServiceUnavailable // 503
	case KindSystem, KindOther:
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError
	}
}
