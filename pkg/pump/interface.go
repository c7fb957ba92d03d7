package pump

// Driver defines the interface for pump drivers (real or mocked).
type Driver interface {
	Connect() error
	Close() error
	Drive(voltage float32) error
	Stop() error
	IsConnected() bool
}

// Ensure Serial implements Driver.
var _ Driver = (*Serial)(nil)

// Ensure Mock implements Driver.
var _ Driver = (*Mock)(nil)
