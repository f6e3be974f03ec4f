package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"io"
	"net"
	"syscall"
)

// classifyResponse は受信したレスポンスを分類する。
// ステータス400以上はボディに関係なくUpstreamError。
// 400未満でボディがJSONでない場合は、レスポンスは受け取れたが利用できないため
// TransportFailure(invalid_body)として扱う。
func classifyResponse(status int, body []byte) Outcome {
	if status >= 400 {
		return upstreamError(status, body)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return success(status, nil)
	}
	if !json.Valid(trimmed) {
		o := transportFailure(ReasonInvalidBody, errors.New("response body is not valid JSON"))
		o.Status = status
		return o
	}
	return success(status, trimmed)
}

// classifyError はレスポンスを受け取れなかった原因を分類する。
func classifyError(err error) Reason {
	if err == nil {
		return ReasonOther
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ReasonTimeout
		}
		return ReasonDNS
	}

	if isTLSError(err) {
		return ReasonTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return ReasonConnection
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ReasonConnection
	}
	return ReasonOther
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert)
}
