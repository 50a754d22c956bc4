package registry

// Service is a long-running component with an explicit lifetime. Start must
// leave nothing running when it fails; Stop releases everything Start
// acquired.
type Service interface {
	Start() error
	Stop() error
}
