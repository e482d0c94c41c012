package pb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// GetRootCertificateRequest carries the caller's cached root certificate, if
// any. A nil Certificate means no root is cached.
type GetRootCertificateRequest struct {
	Certificate []byte
}

// GetCertificate returns the cached root certificate.
func (m *GetRootCertificateRequest) GetCertificate() []byte {
	if m == nil {
		return nil
	}
	return m.Certificate
}

// Marshal implements [Message].
func (m *GetRootCertificateRequest) Marshal() ([]byte, error) {
	return appendOptionalBytes(nil, 1, m.GetCertificate()), nil
}

// Unmarshal implements [Message].
func (m *GetRootCertificateRequest) Unmarshal(b []byte) error {
	*m = GetRootCertificateRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := consumeBytes(b)
			m.Certificate = v
			return n
		}
		return skipField
	})
}

// GetRootCertificateResponse carries a replacement root certificate. An
// empty Certificate means the caller's cached root is current.
type GetRootCertificateResponse struct {
	Certificate []byte
}

// GetCertificate returns the replacement root certificate.
func (m *GetRootCertificateResponse) GetCertificate() []byte {
	if m == nil {
		return nil
	}
	return m.Certificate
}

// Marshal implements [Message].
func (m *GetRootCertificateResponse) Marshal() ([]byte, error) {
	return appendOptionalBytes(nil, 1, m.GetCertificate()), nil
}

// Unmarshal implements [Message].
func (m *GetRootCertificateResponse) Unmarshal(b []byte) error {
	*m = GetRootCertificateResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := consumeBytes(b)
			m.Certificate = v
			return n
		}
		return skipField
	})
}

// SignCertificateRequest carries a PEM encoded certificate signing request.
type SignCertificateRequest struct {
	Csr []byte
}

// GetCsr returns the PEM encoded certificate signing request.
func (m *SignCertificateRequest) GetCsr() []byte {
	if m == nil {
		return nil
	}
	return m.Csr
}

// Marshal implements [Message].
func (m *SignCertificateRequest) Marshal() ([]byte, error) {
	return appendBytes(nil, 1, m.GetCsr()), nil
}

// Unmarshal implements [Message].
func (m *SignCertificateRequest) Unmarshal(b []byte) error {
	*m = SignCertificateRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := consumeBytes(b)
			m.Csr = v
			return n
		}
		return skipField
	})
}

// SignCertificateResponse carries the PEM encoded signed leaf certificate.
type SignCertificateResponse struct {
	Certificate []byte
}

// GetCertificate returns the signed leaf certificate.
func (m *SignCertificateResponse) GetCertificate() []byte {
	if m == nil {
		return nil
	}
	return m.Certificate
}

// Marshal implements [Message].
func (m *SignCertificateResponse) Marshal() ([]byte, error) {
	return appendBytes(nil, 1, m.GetCertificate()), nil
}

// Unmarshal implements [Message].
func (m *SignCertificateResponse) Unmarshal(b []byte) error {
	*m = SignCertificateResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := consumeBytes(b)
			m.Certificate = v
			return n
		}
		return skipField
	})
}
