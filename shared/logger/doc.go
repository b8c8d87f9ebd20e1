// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging with per-organization
context for Kaizen Studio components.

Each entry is a single JSON line on stdout carrying the timestamp
(RFC3339Nano), level, component, instance and container identifiers,
the organization ID, the request ID, and any custom fields, so log
aggregators can slice by tenant and correlate by request.

Create a logger per component:

	log := logger.New("gateway")

Log with organization and request context:

	log.Info("org-123", "req-456", "policy created", map[string]interface{}{
	    "policy_id": policy.ID,
	})

Errors with status codes use ErrorWithCode:

	log.ErrorWithCode("org-123", "req-456", "invocation failed", 502, err, nil)

The INSTANCE_ID environment variable identifies the deployment instance;
the container name comes from the hostname. Logger instances are safe
for concurrent use.
*/
package logger
