// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends alarms to the shift crew.
package alert // import "github.com/go-lpc/sts/internal/alert"

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// Mailer sends alarms by mail.
type Mailer struct {
	From   string
	To     []string
	Prefix string // subject prefix

	send func(msg ...*mail.Message) error
}

// NewMailer creates a mailer sending alarms through the given SMTP server.
func NewMailer(srv string, port int, usr, pwd string, tgts []string) *Mailer {
	dial := mail.NewDialer(srv, port, usr, pwd)
	dial.TLSConfig = &tls.Config{
		ServerName: srv,
	}
	return &Mailer{
		From: usr,
		To:   tgts,
		send: dial.DialAndSend,
	}
}

// FromEnv creates a mailer from the MAIL_USERNAME, MAIL_PASSWORD,
// MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
func FromEnv() (*Mailer, error) {
	var (
		usr  = os.Getenv("MAIL_USERNAME")
		pwd  = os.Getenv("MAIL_PASSWORD")
		srv  = os.Getenv("MAIL_SERVER")
		port = os.Getenv("MAIL_PORT")
		tgts = os.Getenv("MAIL_TGTS")
	)

	if usr == "" || pwd == "" || srv == "" || port == "" || tgts == "" {
		return nil, fmt.Errorf("alert: missing mail credentials")
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("alert: invalid mail port %q: %w", port, err)
	}

	return NewMailer(srv, p, usr, pwd, strings.Split(tgts, ",")), nil
}

// Alert sends an alarm mail.
func (m *Mailer) Alert(subject, body string) error {
	if len(m.To) == 0 {
		return fmt.Errorf("alert: no mail recipients")
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("Bcc", m.To...)
	msg.SetHeader("Subject", m.Prefix+subject)
	msg.SetBody("text/plain", body)

	err := m.send(msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail alert: %w", err)
	}
	return nil
}

// Logger sends alarms to a log.
type Logger struct {
	Log *log.Logger
}

// Alert logs the alarm.
func (l Logger) Alert(subject, body string) error {
	msg := l.Log
	if msg == nil {
		msg = log.Default()
	}
	msg.Printf("ALERT: %s\n%s", subject, body)
	return nil
}
