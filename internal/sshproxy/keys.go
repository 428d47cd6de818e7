package sshproxy

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// GenerateKeyPair generates an ED25519 key pair and returns the OpenSSH
// authorized_keys line and the PEM-encoded private key.
func GenerateKeyPair() (publicKey, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(sshPub), privateKeyPEM, nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer.
func ParsePrivateKey(privateKeyPEM []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// LoadSigner reads the private key at path.
func LoadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return ParsePrivateKey(data)
}

// LoadOrCreateSigner loads the private key at path, generating and saving a
// new pair (path and path+".pub") when none exists. created reports whether
// a new key was written.
func LoadOrCreateSigner(path string) (signer ssh.Signer, created bool, err error) {
	signer, err = LoadSigner(path)
	if err == nil {
		return signer, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	pub, priv, err := GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, false, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, false, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(path+".pub", pub, 0644); err != nil {
		return nil, false, fmt.Errorf("write public key: %w", err)
	}
	log.Info().Str("path", path).Msg("generated ssh identity")

	signer, err = ParsePrivateKey(priv)
	return signer, true, err
}

// AuthorizedKey returns the authorized_keys line for signer.
func AuthorizedKey(signer ssh.Signer) string {
	return string(ssh.MarshalAuthorizedKey(signer.PublicKey()))
}

// userKnownHosts is the per-user known_hosts file consulted next to the
// configured one.
var userKnownHosts = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// HostKeyCallback verifies router host keys against path (when set) and the
// user's ~/.ssh/known_hosts (when present). A router listed in neither is
// accepted with a warning; a router whose listed key differs is rejected.
func HostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	var files []string
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", path, err)
		}
		files = append(files, path)
	}
	if user := userKnownHosts(); user != "" && user != path {
		if _, err := os.Stat(user); err == nil {
			files = append(files, user)
		}
	}
	log.Warn().Strs("known_hosts", files).
		Msg("accepting host keys of routers not listed in known_hosts; changed keys are still rejected")

	var known ssh.HostKeyCallback
	if len(files) > 0 {
		cb, err := knownhosts.New(files...)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %v: %w", files, err)
		}
		known = cb
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		var err error
		if known != nil {
			err = known(hostname, remote, key)
		} else {
			err = &knownhosts.KeyError{}
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			log.Warn().Str("host", hostname).Str("fingerprint", ssh.FingerprintSHA256(key)).
				Msg("accepting unknown ssh host key")
			return nil
		}
		return err
	}, nil
}
