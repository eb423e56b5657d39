package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnConfig holds connection settings for the LDAP directory.
type ConnConfig struct {
	Host     string
	Port     int
	BindDN   string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

// URL renders the ldap:// or ldaps:// URL for the configured server.
func (c ConnConfig) URL() string {
	scheme := "ldap"
	if c.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// ldapClient implements Client over a go-ldap connection.
type ldapClient struct {
	conn *ldap.Conn
	log  *slog.Logger
}

// Connect dials and binds to the directory server.
func Connect(cfg ConnConfig, log *slog.Logger) (Client, error) {
	var opts []ldap.DialOpt
	if cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{ServerName: cfg.Host}))
	}

	conn, err := ldap.DialURL(cfg.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LDAP server %s: %w", cfg.URL(), err)
	}
	if cfg.Timeout > 0 {
		conn.SetTimeout(cfg.Timeout)
	}

	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.Password); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to bind as %s: %w", cfg.BindDN, err)
		}
	}

	log.Info("connected to directory", "url", cfg.URL(), "bind_dn", cfg.BindDN)
	return &ldapClient{conn: conn, log: log}, nil
}

// Exists issues a base-scope search limited to one result and no
// attributes. noSuchObject means the entry is absent, not an error.
func (c *ldapClient) Exists(ctx context.Context, dn string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Transient("exists", dn, err)
	}

	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		[]string{"1.1"},
		nil,
	)

	res, err := c.conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return false, nil
		}
		return false, classify("exists", dn, err)
	}
	return len(res.Entries) > 0, nil
}

func (c *ldapClient) Add(ctx context.Context, dn string, attrs map[string][]string, objectClasses []string) error {
	if err := ctx.Err(); err != nil {
		return Transient("add", dn, err)
	}

	req := ldap.NewAddRequest(dn, nil)
	req.Attribute("objectClass", objectClasses)
	for name, values := range attrs {
		req.Attribute(name, values)
	}

	if err := c.conn.Add(req); err != nil {
		return classify("add", dn, err)
	}
	c.log.Debug("added entry", "dn", dn)
	return nil
}

func (c *ldapClient) Modify(ctx context.Context, dn string, attrs map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return Transient("modify", dn, err)
	}

	req := ldap.NewModifyRequest(dn, nil)
	for name, values := range attrs {
		req.Replace(name, values)
	}

	if err := c.conn.Modify(req); err != nil {
		return classify("modify", dn, err)
	}
	c.log.Debug("modified entry", "dn", dn)
	return nil
}

func (c *ldapClient) Delete(ctx context.Context, dn string) error {
	if err := ctx.Err(); err != nil {
		return Transient("delete", dn, err)
	}

	if err := c.conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
		return classify("delete", dn, err)
	}
	c.log.Debug("deleted entry", "dn", dn)
	return nil
}

func (c *ldapClient) Close() error {
	return c.conn.Close()
}
