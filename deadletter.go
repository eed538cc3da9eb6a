// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package eventfanout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// A DeadLetter is the durable record of a delivery that permanently failed
// or exhausted its retry budget.
type DeadLetter struct {
	AttemptID      string         `json:"attempt_id"`
	SubscriptionID SubscriptionID `json:"subscription_id"`
	Endpoint       string         `json:"endpoint"`
	EventName      string         `json:"event_name"`
	Container      string         `json:"container_identifier"`
	Key            string         `json:"object_key"`
	TotalAttempts  int            `json:"total_attempts"`
	LastReason     string         `json:"last_reason"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DeadLetterRecorder durably records dead letters.  Implementations must be
// safe for concurrent use.
type DeadLetterRecorder interface {
	Record(ctx context.Context, dl DeadLetter) error
}

// FileDeadLetterLog appends one JSON line per dead letter to a file.
type FileDeadLetterLog struct {
	// Path of the log file.  Parent directories are created on first write.
	Path string

	// Mode of the log file, defaulting to 0600.
	Mode os.FileMode

	f *os.File
	l sync.Mutex
}

var _ DeadLetterRecorder = (*FileDeadLetterLog)(nil)

const defaultDeadLetterMode = 0o600

func (fl *FileDeadLetterLog) open() error {
	mode := fl.Mode
	if mode == 0 {
		mode = defaultDeadLetterMode
	}

	if err := os.MkdirAll(filepath.Dir(fl.Path), 0o700); err != nil {
		return err
	}

	var err error
	fl.f, err = os.OpenFile(fl.Path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, mode)
	if err != nil {
		return err
	}

	// Fix up the file mode in case the log already existed.
	if fl.Mode != 0 {
		if err := os.Chmod(fl.Path, fl.Mode); err != nil {
			return err
		}
	}
	return nil
}

// Record appends the dead letter as a single JSON line.
func (fl *FileDeadLetterLog) Record(ctx context.Context, dl DeadLetter) error {
	if fl.Path == "" {
		return errors.New("dead letter log path is not set")
	}
	buf, err := json.Marshal(dl)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	fl.l.Lock()
	defer fl.l.Unlock()

	if fl.f == nil {
		if err := fl.open(); err != nil {
			return err
		}
	}

	if _, err := fl.f.Write(buf); err == nil {
		return nil
	}

	// Opportunistically re-open the file once per call; the first write may
	// have failed because the file was rotated or unlinked underneath us.
	_ = fl.f.Close()
	fl.f = nil

	if err := fl.open(); err != nil {
		return err
	}

	_, err = fl.f.Write(buf)
	return err
}

// Reopen closes and re-opens the log file, for use with log rotation.
func (fl *FileDeadLetterLog) Reopen() error {
	fl.l.Lock()
	defer fl.l.Unlock()

	if fl.f == nil {
		return fl.open()
	}

	err := fl.f.Close()
	// Set to nil here so that even if we error out, on the next access
	// open() will be tried.
	fl.f = nil
	if err != nil {
		return err
	}

	return fl.open()
}
