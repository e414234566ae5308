package capability

import "errors"

var (
	// ErrAlreadyRegistered is returned when a capability already has an executor.
	ErrAlreadyRegistered = errors.New("capability already registered")

	// ErrNotRegistered is returned when no executor is registered for a capability.
	ErrNotRegistered = errors.New("capability not registered")

	// ErrExecutorRequired is returned when registering a nil executor.
	ErrExecutorRequired = errors.New("executor required")

	// ErrRetrieverRequired is returned when a retrieve executor has no retriever.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrCompleterRequired is returned when an executor needs a completer.
	ErrCompleterRequired = errors.New("completer required")

	// ErrGitHubClientRequired is returned when an executor needs a GitHub client.
	ErrGitHubClientRequired = errors.New("github client required")

	// ErrPublisherRequired is returned when a message executor has no publisher.
	ErrPublisherRequired = errors.New("publisher required")
)
