package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juliaogris/stevedore/pkg/ca"
	"github.com/juliaogris/stevedore/pkg/cert"
	"github.com/juliaogris/stevedore/pkg/identity"
	"github.com/stretchr/testify/require"
)

func TestAuthorityPersistsRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := &app{
		Address:  "127.0.0.1:0",
		CertFile: filepath.Join(dir, "ca_cert.pem"),
		KeyFile:  filepath.Join(dir, "ca_key.pem"),
		KeyType:  "ecdsa-p384",
		Validity: time.Hour,
	}

	first := enroll(t, a)
	fi, err := os.Stat(a.KeyFile)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	// a restarted authority keeps its root
	second := enroll(t, a)
	require.True(t, first.Root.Equal(second.Root))

	leaf, err := second.Identity.Leaf()
	require.NoError(t, err)
	require.Equal(t, "client1", leaf.Subject.CommonName)
	require.WithinDuration(t, time.Now().Add(time.Hour), leaf.NotAfter, time.Minute)
}

func TestAuthorityCorruptRoot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := &app{
		Address:  "127.0.0.1:0",
		CertFile: filepath.Join(dir, "ca_cert.pem"),
		KeyFile:  filepath.Join(dir, "ca_key.pem"),
		KeyType:  "ecdsa-p384",
		Validity: time.Hour,
	}
	require.NoError(t, os.WriteFile(a.CertFile, []byte("garbage"), 0o600))
	require.NoError(t, os.WriteFile(a.KeyFile, []byte("garbage"), 0o600))

	err := a.run(context.Background())
	require.ErrorIs(t, err, cert.ErrCorrupt)
}

// enroll starts the authority, obtains an identity from it and stops it.
func enroll(t *testing.T, a *app) identity.Result {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	listening := make(chan net.Addr, 1)
	a.onServe = func(addr net.Addr) { listening <- addr }
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	var addr net.Addr
	select {
	case addr = <-listening:
	case err := <-done:
		t.Fatalf("run returned before serving: %v", err)
	}
	client, err := ca.Dial(addr.String(), ca.WithKeyType(ca.KeyECDSAP384), ca.WithCommonName("client1"))
	require.NoError(t, err)
	b := &identity.Bootstrap{Store: &cert.MemStore{}, Authority: client}
	result, err := b.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	cancel()
	require.NoError(t, <-done)
	return result
}
