package infra

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// AppMetadata describes the network an application is deployed on
type AppMetadata struct {
	APIName     string `json:"api_name"`
	Name        string `json:"name"`
	Network     string `json:"network"`
	NetworkType string `json:"network_type"`
	Type        string `json:"type"`
	Faucet      string `json:"faucet"`

	// Poa networks have no balances to speak of
	Poa         bool `json:"poa"`
	SimbaFaucet bool `json:"simba_faucet"`
}

// ManifestFile is one file stored in a transaction bundle
type ManifestFile struct {
	Name     string
	MimeType string
	Size     string
	Hash     string
}

type manifestEntry struct {
	Name     string      `json:"name"`
	MimeType string      `json:"mimetype"`
	Size     looseString `json:"size"`
	Hash     string      `json:"hash"`
}

// Manifest lists the files of a transaction bundle
type Manifest struct {
	Files []ManifestFile
}

// Balance of an account. Amount and Currency are empty on poa networks.
type Balance struct {
	Poa      bool   `json:"poa"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// Funds is the result of asking for funds. TxnID is set when the
// service paid out through its own faucet.
type Funds struct {
	Poa       bool   `json:"poa"`
	TxnID     string `json:"txnId"`
	FaucetURL string `json:"faucet_url"`
}

type apiDocument struct {
	Info struct {
		Metadata *AppMetadata `json:"x-simba-attrs"`
	} `json:"info"`
}

// Metadata fetches the application metadata and keeps it for Balance and AddFunds
func (t *HTTPTransport) Metadata(ctx context.Context) (*AppMetadata, error) {
	var doc apiDocument
	if err := t.client.Get(ctx, t.app+"/?format=openapi", &doc); err != nil {
		return nil, errors.Wrapf(err, "fail to fetch metadata of %s", t.app)
	}
	if doc.Info.Metadata == nil {
		return nil, errors.Errorf("service returned no metadata for %s", t.app)
	}

	t.mu.Lock()
	t.metadata = doc.Info.Metadata
	t.mu.Unlock()
	return doc.Info.Metadata, nil
}

func (t *HTTPTransport) cachedMetadata(ctx context.Context) (*AppMetadata, error) {
	t.mu.Lock()
	m := t.metadata
	t.mu.Unlock()
	if m != nil {
		return m, nil
	}
	return t.Metadata(ctx)
}

// BundleMetadata returns the manifest of the bundle attached to a transaction
func (t *HTTPTransport) BundleMetadata(ctx context.Context, idOrHash string) (*Manifest, error) {
	var resp struct {
		Manifest []manifestEntry `json:"manifest"`
	}
	path := fmt.Sprintf("%s/transaction/%s/bundle/?no_files=true", t.app, url.PathEscape(idOrHash))
	if err := t.client.Get(ctx, path, &resp); err != nil {
		return nil, errors.Wrapf(err, "fail to fetch bundle manifest of %s", idOrHash)
	}
	m := &Manifest{Files: make([]ManifestFile, len(resp.Manifest))}
	for i, e := range resp.Manifest {
		m.Files[i] = ManifestFile{Name: e.Name, MimeType: e.MimeType, Size: string(e.Size), Hash: e.Hash}
	}
	return m, nil
}

// Bundle writes the raw bundle of a transaction to w
func (t *HTTPTransport) Bundle(ctx context.Context, idOrHash string, w io.Writer) (int64, error) {
	path := fmt.Sprintf("%s/transaction/%s/bundle_raw/", t.app, url.PathEscape(idOrHash))
	n, err := t.client.GetStream(ctx, path, w)
	if err != nil {
		return n, errors.Wrapf(err, "fail to fetch bundle of %s", idOrHash)
	}
	return n, nil
}

// BundleFile writes a single named file of a transaction bundle to w
func (t *HTTPTransport) BundleFile(ctx context.Context, idOrHash, name string, w io.Writer) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, errors.New("file name is required")
	}
	path := fmt.Sprintf("%s/transaction/%s/fileByName/%s", t.app, url.PathEscape(idOrHash), url.PathEscape(name))
	n, err := t.client.GetStream(ctx, path, w)
	if err != nil {
		return n, errors.Wrapf(err, "fail to fetch %s from bundle of %s", name, idOrHash)
	}
	return n, nil
}

// Balance returns the balance of address. Poa networks report Poa only.
func (t *HTTPTransport) Balance(ctx context.Context, address string) (*Balance, error) {
	if address == "" {
		return nil, ErrNoSigner
	}
	meta, err := t.cachedMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta.Poa {
		return &Balance{Poa: true}, nil
	}

	var b Balance
	if err := t.client.Get(ctx, fmt.Sprintf("%s/balance/%s", t.app, address), &b); err != nil {
		return nil, errors.Wrapf(err, "fail to fetch balance of %s", address)
	}
	b.Poa = false
	return &b, nil
}

// AddFunds asks the service faucet to fund address. On poa networks
// nothing is needed, and without a service faucet only the faucet URL is
// returned.
func (t *HTTPTransport) AddFunds(ctx context.Context, address string) (*Funds, error) {
	if address == "" {
		return nil, ErrNoSigner
	}
	meta, err := t.cachedMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta.Poa {
		return &Funds{Poa: true}, nil
	}
	if !meta.SimbaFaucet {
		return &Funds{FaucetURL: meta.Faucet}, nil
	}

	body := map[string]string{
		"account":  address,
		"value":    "1",
		"currency": "ether",
	}
	var f Funds
	if err := t.client.PostJSON(ctx, fmt.Sprintf("%s/balance/%s", t.app, address), body, &f); err != nil {
		return nil, errors.Wrapf(err, "fail to add funds to %s", address)
	}
	f.Poa = false
	f.FaucetURL = meta.Faucet
	return &f, nil
}
