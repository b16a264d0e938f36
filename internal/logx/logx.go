package logx

import (
	"go.uber.org/zap"
)

// New builds the process logger: JSON in production, console otherwise.
func New(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Must is New for main packages.
func Must(production bool) *zap.Logger {
	l, err := New(production)
	if err != nil {
		panic(err)
	}
	return l
}
