// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sigil-dev/medrag/internal/authz"
	mederr "github.com/sigil-dev/medrag/pkg/errors"
)

// Subject headers set by the authenticating gateway in front of medrag.
const (
	HeaderSubjectID         = "X-Subject-ID"
	HeaderSubjectRole       = "X-Subject-Role"
	HeaderSubjectDepartment = "X-Subject-Department"
	// HeaderSubjectPatients is a comma-separated list of patient IDs.
	HeaderSubjectPatients = "X-Subject-Patients"
)

const requestIDHeader = "X-Request-ID"

type contextKey int

const (
	subjectKey contextKey = iota
	requestIDKey
)

// ContextWithSubject returns ctx carrying subject.
func ContextWithSubject(ctx context.Context, subject authz.Subject) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the subject attached by the subject middleware.
func SubjectFromContext(ctx context.Context) (authz.Subject, bool) {
	s, ok := ctx.Value(subjectKey).(authz.Subject)
	return s, ok
}

// RequestIDFromContext returns the request ID, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requireSubject returns the caller or an unauthorized error.
func requireSubject(ctx context.Context) (authz.Subject, error) {
	s, ok := SubjectFromContext(ctx)
	if !ok {
		return authz.Subject{}, mederr.New(mederr.CodeServerAuthUnauthorized,
			"missing subject: "+HeaderSubjectID+" and "+HeaderSubjectRole+" are required")
	}
	return s, nil
}

// requestIDMiddleware propagates the caller's X-Request-ID or mints one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// subjectMiddleware reads the X-Subject-* headers into the request context.
// When trusted is non-empty, headers from any other peer are ignored and
// the request proceeds anonymously.
func subjectMiddleware(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderSubjectID))
			role := strings.TrimSpace(r.Header.Get(HeaderSubjectRole))
			if id == "" || role == "" {
				next.ServeHTTP(w, r)
				return
			}

			if len(trusted) > 0 {
				ip := net.ParseIP(peerHost(r.RemoteAddr))
				if ip == nil || !isTrustedProxy(ip, trusted) {
					slog.Warn("ignoring subject headers from untrusted peer",
						"remote_addr", r.RemoteAddr,
						"request_id", RequestIDFromContext(r.Context()),
					)
					next.ServeHTTP(w, r)
					return
				}
			}

			patients, err := parsePatientIDs(r.Header.Get(HeaderSubjectPatients))
			if err != nil {
				slog.Warn("ignoring malformed patient assignments",
					"subject_id", id,
					"error", err,
				)
			}

			subject := authz.Subject{
				ID:         id,
				Role:       role,
				Department: strings.TrimSpace(r.Header.Get(HeaderSubjectDepartment)),
				PatientIDs: patients,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), subject)))
		})
	}
}

// parsePatientIDs parses "1, 2,3". A malformed list yields no assignments,
// which narrows rather than widens access.
func parsePatientIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, mederr.Errorf(mederr.CodeServerRequestInvalid, "invalid patient id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// authorID maps the subject to the numeric author column; non-numeric
// identities are recorded as zero.
func authorID(subject authz.Subject) int64 {
	id, err := strconv.ParseInt(subject.ID, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
