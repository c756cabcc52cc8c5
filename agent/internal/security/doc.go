// Package security inspects the TLS certificate of the remote endpoint.
// Monitor re-checks it on an interval and the API surfaces the latest
// CertStatus as a diagnostic hint before the certificate expires.
package security
