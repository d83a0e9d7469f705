// Package service defines the Service capability boundary (§6): the
// node core treats user transaction types and their execution as an
// opaque collaborator, looked up by service id.
package service

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ErrUnknownService is returned by a Registry when no service claims a
// transaction's service id (§4.5 step 1).
var ErrUnknownService = ServiceError("service: unknown service id")

// ServiceError is a sentinel error type so callers can errors.Is against
// the registry's well-known failures.
type ServiceError string

func (e ServiceError) Error() string { return string(e) }

// ExecutionResult is the outcome of executing one transaction (§4.6): a
// failed transaction still advances state, so Err is recorded, not raised.
type ExecutionResult struct {
	OK    bool
	Err   error
	Extra []byte
}

// Transaction is the decoded body a Service hands back to the core after
// admission (§3 "Transaction ... decoder yields a service-id and a
// service-defined body").
type Transaction interface {
	// Hash identifies the transaction: the hash of its signed bytes.
	Hash() ethcommon.Hash
	// ServiceID is the routing key back to the owning Service.
	ServiceID() uint16
	// SignedBytes returns the service-defined body bytes the transaction
	// was decoded from. The pool's signature check covers the envelope
	// (service id plus these bytes), not SignedBytes alone.
	SignedBytes() []byte
}

// Fork is the writable execution context a Service operates against for
// one transaction; it is a thin view over storage.Fork scoped to this
// service's namespace, kept opaque here to avoid a dependency from
// service -> storage.
type Fork interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
	Delete(key []byte)
}

// Service is the execution capability for one service id (§1 "Non-goals:
// ... Service capability" and §6).
type Service interface {
	// ID returns the service id this Service claims transactions for.
	ID() uint16
	// Decode parses raw signed transaction bytes into a Transaction, or
	// an error if the bytes are malformed for this service.
	Decode(raw []byte) (Transaction, error)
	// Validate runs the service's static validation (§4.5 step 3),
	// independent of execution state.
	Validate(tx Transaction) error
	// Execute runs tx against fork and returns its result. A panic during
	// Execute is recovered by the caller into a failed ExecutionResult,
	// recorded like any other failed transaction; the block is not
	// aborted. Execute itself should not panic for well-formed
	// transactions.
	Execute(fork Fork, tx Transaction) ExecutionResult
}

// Registry resolves transactions to their owning Service by id.
type Registry struct {
	services map[uint16]Service
}

// NewRegistry builds a Registry from a list of services.
func NewRegistry(services ...Service) *Registry {
	r := &Registry{services: make(map[uint16]Service, len(services))}
	for _, s := range services {
		r.services[s.ID()] = s
	}
	return r
}

// Lookup returns the Service for id, or ErrUnknownService.
func (r *Registry) Lookup(id uint16) (Service, error) {
	s, ok := r.services[id]
	if !ok {
		return nil, ErrUnknownService
	}
	return s, nil
}

// Decode routes raw bytes to the service named by serviceID and decodes
// them, failing with ErrUnknownService for an unregistered id (§4.5 step 1).
func (r *Registry) Decode(serviceID uint16, raw []byte) (Transaction, error) {
	svc, err := r.Lookup(serviceID)
	if err != nil {
		return nil, err
	}
	return svc.Decode(raw)
}
