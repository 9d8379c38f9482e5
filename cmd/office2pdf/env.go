package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"

	office2pdf "github.com/alnah/go-office2pdf"
	"github.com/alnah/go-office2pdf/internal/config"
	"github.com/alnah/go-office2pdf/internal/server"
)

// Converter is what the commands need from the conversion library.
type Converter interface {
	server.Converter
	ConvertFile(ctx context.Context, path string) (*office2pdf.ConversionResult, error)
	Close() error
}

// Compile-time interface implementation check.
var _ Converter = (*office2pdf.Converter)(nil)

// Environment holds injectable dependencies for testability.
type Environment struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Getenv   func(string) string
	Environ  func() []string
	LookPath func(string) (string, error)
	Listen   func(network, address string) (net.Listener, error)

	// NewConverter builds the converter for serve and convert.
	NewConverter func(cfg *config.Config, logger *slog.Logger) (Converter, error)
}

// DefaultEnv returns the production environment.
func DefaultEnv() *Environment {
	return &Environment{
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Getenv:       os.Getenv,
		Environ:      os.Environ,
		LookPath:     exec.LookPath,
		Listen:       net.Listen,
		NewConverter: newConverter,
	}
}

// newConverter wires LibreOffice engines into a Converter from cfg.
func newConverter(cfg *config.Config, logger *slog.Logger) (Converter, error) {
	factory := office2pdf.NewSofficeFactory(office2pdf.SofficeOptions{
		Binary:       cfg.Engine.Binary,
		ProfileRoot:  cfg.Engine.ProfileRoot,
		StartTimeout: cfg.Engine.StartTimeout,
		Logger:       logger,
	})
	conv, err := office2pdf.NewConverter(
		office2pdf.WithWorkers(cfg.Engine.Workers),
		office2pdf.WithStagingRoot(cfg.Staging.Root),
		office2pdf.WithEngineFactory(factory),
		office2pdf.WithCallTimeout(cfg.Engine.CallTimeout),
		office2pdf.WithPDFVerification(cfg.Engine.VerifyOutput),
		office2pdf.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}
