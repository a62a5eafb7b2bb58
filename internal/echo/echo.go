// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package echo is an object that returns what it is given, used to exercise
// transports end to end.
package echo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Failure is the error Fail declares.
type Failure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("echo failure %d: %s", f.Code, f.Message)
}

// Service echoes its arguments.
type Service struct {
	calls atomic.Int64
}

func New() *Service {
	return &Service{}
}

func (s *Service) DeclaredErrors() []error {
	return []error{&Failure{}}
}

func (s *Service) EchoInt(v int) int {
	s.calls.Add(1)
	return v
}

func (s *Service) EchoBoolean(v bool) bool {
	s.calls.Add(1)
	return v
}

func (s *Service) EchoString(v string) string {
	s.calls.Add(1)
	return v
}

func (s *Service) EchoFloat(v float64) float64 {
	s.calls.Add(1)
	return v
}

func (s *Service) EchoBytes(v []byte) []byte {
	s.calls.Add(1)
	return v
}

func (s *Service) EchoStrings(v []string) []string {
	s.calls.Add(1)
	return v
}

func (s *Service) EchoMap(v map[string]int) map[string]int {
	s.calls.Add(1)
	return v
}

// Fail returns a declared *Failure, wrapped so callers see it through the
// chain.
func (s *Service) Fail(code int, message string) error {
	s.calls.Add(1)
	return fmt.Errorf("echo: %w", &Failure{Code: code, Message: message})
}

// Crash returns an error the service does not declare.
func (s *Service) Crash(message string) error {
	s.calls.Add(1)
	return errors.New(message)
}

func (s *Service) Panic(message string) {
	s.calls.Add(1)
	panic(message)
}

// Sleep blocks for d or until ctx is done.
func (s *Service) Sleep(ctx context.Context, d time.Duration) error {
	s.calls.Add(1)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Calls is the number of invocations served.
func (s *Service) Calls() int64 {
	return s.calls.Load()
}
