package schemaRegistry

import "fmt"

// RegistryIntegrityError means the variant history is ambiguous or malformed.
// It is fatal: a registry that fails integrity checks is never installed.
type RegistryIntegrityError struct {
	Kind      ItemKind
	Hash      ContentHash
	OtherHash ContentHash
	Message   string
}

func (e *RegistryIntegrityError) Error() string {
	if e.OtherHash != "" {
		return fmt.Sprintf("registry integrity violation for %s (%s vs %s): %s", e.Kind, e.Hash.Short(), e.OtherHash.Short(), e.Message)
	}
	if e.Hash != "" {
		return fmt.Sprintf("registry integrity violation for %s (%s): %s", e.Kind, e.Hash.Short(), e.Message)
	}
	return fmt.Sprintf("registry integrity violation for %s: %s", e.Kind, e.Message)
}

func newIntegrityError(kind ItemKind, hash ContentHash, format string, args ...any) *RegistryIntegrityError {
	return &RegistryIntegrityError{
		Kind:    kind,
		Hash:    hash,
		Message: fmt.Sprintf(format, args...),
	}
}
