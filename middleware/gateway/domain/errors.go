package domain

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNotConfigured indica que o provedor não tem credenciais/URL; nunca é retentado.
	ErrNotConfigured = errors.New("upstream provider is not configured")
	// ErrTransport marca falhas de rede que não chegaram a produzir um status.
	ErrTransport = errors.New("upstream transport failure")
	// ErrSaturated indica que não houve vaga para chamar o provedor dentro do timeout.
	ErrSaturated = errors.New("upstream concurrency limit reached")
)

// UpstreamError é a falha tipada de uma chamada ao provedor.
// Status segue a semântica HTTP; 0 quando não houve resposta.
type UpstreamError struct {
	Provider string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := "upstream"
	if e.Provider != "" {
		msg += " " + e.Provider
	}
	if e.Status != 0 {
		msg += " returned status " + strconv.Itoa(e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error { return e.Err }

type ErrorKind int

const (
	KindAdmissionDenied ErrorKind = iota + 1
	KindTransient
	KindPermanent
	KindExhausted
	KindTimeout
	KindNotConfigured
)

var kindStrings = map[ErrorKind]string{
	KindAdmissionDenied: "admission_denied",
	KindTransient:       "transient",
	KindPermanent:       "permanent",
	KindExhausted:       "exhausted",
	KindTimeout:         "timeout",
	KindNotConfigured:   "not_configured",
}

func (k ErrorKind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// GatewayError é o erro terminal devolvido pelo orquestrador.
// Cause preserva a última falha real do provedor.
type GatewayError struct {
	Kind  ErrorKind
	Cause error
}

func (e *GatewayError) Error() string {
	if e.Cause == nil {
		return "gateway: " + e.Kind.String()
	}
	return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Cause)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// KindOf retorna o ErrorKind de err, ou 0 se err não for um GatewayError.
func KindOf(err error) ErrorKind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return 0
}
