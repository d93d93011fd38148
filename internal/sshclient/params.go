package sshclient

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"
)

// AuthMode selects how a connection authenticates.
type AuthMode string

const (
	AuthPassword   AuthMode = "password"
	AuthPrivateKey AuthMode = "privateKey"

	// authKeyAlias is the older spelling of AuthPrivateKey.
	authKeyAlias AuthMode = "key"
)

// DefaultPort is used when ConnectionParams.Port is zero.
const DefaultPort = 22

// ErrInvalidParams is wrapped by every validation failure.
var ErrInvalidParams = errors.New("invalid connection parameters")

// ConnectionParams describes one remote endpoint and the credentials used to
// reach it. Values are treated as immutable once a session is created.
type ConnectionParams struct {
	Hostname string   `json:"hostname"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	AuthMode AuthMode `json:"authMethod"`

	Password string `json:"-"`

	// PrivateKey holds an inline PEM key and wins over PrivateKeyPath.
	PrivateKey     string `json:"-"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty"`
	Passphrase     string `json:"-"`
}

// WithDefaults returns a copy with the port and auth mode filled in.
func (p ConnectionParams) WithDefaults() ConnectionParams {
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.AuthMode == authKeyAlias {
		p.AuthMode = AuthPrivateKey
	}
	if p.AuthMode == "" {
		if p.PrivateKey != "" || p.PrivateKeyPath != "" {
			p.AuthMode = AuthPrivateKey
		} else {
			p.AuthMode = AuthPassword
		}
	}
	return p
}

// Validate checks the parameters without touching the network.
func (p ConnectionParams) Validate() error {
	p = p.WithDefaults()
	if p.Hostname == "" {
		return fmt.Errorf("%w: hostname is required", ErrInvalidParams)
	}
	if p.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidParams)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidParams)
	}
	switch p.AuthMode {
	case AuthPassword:
		if p.Password == "" {
			return fmt.Errorf("%w: password is required for password authentication", ErrInvalidParams)
		}
	case AuthPrivateKey:
		if p.PrivateKey == "" && p.PrivateKeyPath == "" {
			return fmt.Errorf("%w: private key is required for key authentication", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: unknown auth method %q", ErrInvalidParams, p.AuthMode)
	}
	return nil
}

// Address returns host:port suitable for dialing.
func (p ConnectionParams) Address() string {
	p = p.WithDefaults()
	return net.JoinHostPort(p.Hostname, strconv.Itoa(p.Port))
}

// String never includes credential material.
func (p ConnectionParams) String() string {
	p = p.WithDefaults()
	return fmt.Sprintf("%s@%s (%s)", p.Username, p.Address(), p.AuthMode)
}

func (p ConnectionParams) authMethods() ([]ssh.AuthMethod, error) {
	switch p.AuthMode {
	case AuthPassword:
		return []ssh.AuthMethod{
			ssh.Password(p.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = p.Password
				}
				return answers, nil
			}),
		}, nil
	case AuthPrivateKey:
		signer, err := p.signer()
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return nil, fmt.Errorf("%w: unknown auth method %q", ErrInvalidParams, p.AuthMode)
}

func (p ConnectionParams) signer() (ssh.Signer, error) {
	pemBytes := []byte(p.PrivateKey)
	if len(pemBytes) == 0 {
		data, err := os.ReadFile(p.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		pemBytes = data
	}

	var (
		signer ssh.Signer
		err    error
	)
	if p.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(p.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
