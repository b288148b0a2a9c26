// Package bitbucket lists the repositories of a Cloud workspace or a
// Server/DC project over the REST API.
package bitbucket

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// CloudAPIBase is the Bitbucket Cloud REST endpoint.
const CloudAPIBase = "https://api.bitbucket.org/2.0"

const requestTimeout = 60 * time.Second

// Repository is one remote repository as reported by the API.
type Repository struct {
	Slug string
	URL  string
}

// Credentials authenticate API requests. Password is an app password
// (Cloud) or personal access token (Server); Token, when set, is sent as a
// bearer token instead of basic auth.
type Credentials struct {
	User     string
	Password string
	Token    string
}

// CredentialsFromEnv reads API credentials from the process environment.
// Secrets never live in the backing file.
func CredentialsFromEnv(user string) Credentials {
	return Credentials{
		User:     user,
		Password: os.Getenv("BITBUCKET_APP_PASSWORD"),
		Token:    os.Getenv("BITBUCKET_TOKEN"),
	}
}

// Options configures the client transport.
type Options struct {
	Insecure bool   // skip TLS verification
	CABundle string // path to a PEM bundle used as the root CA pool
}

// Client talks to one Bitbucket instance.
type Client struct {
	httpClient *http.Client
	creds      Credentials
}

// NewClient builds a client honoring the TLS settings.
func NewClient(creds Credentials, opts Options) (*Client, error) {
	tlsConfig := &tls.Config{}
	if opts.Insecure {
		tlsConfig.InsecureSkipVerify = true
	}
	if opts.CABundle != "" {
		pem, err := os.ReadFile(opts.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle %s: %w", opts.CABundle, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CABundle)
		}
		tlsConfig.RootCAs = pool
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		creds: creds,
	}, nil
}

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode == http.StatusUnauthorized {
		return fmt.Sprintf("bitbucket API 401 for %s: use an app password or personal access token with read access", e.URL)
	}
	return fmt.Sprintf("bitbucket API %d for %s: %s", e.StatusCode, e.URL, strings.TrimSpace(e.Body))
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if c.creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.Token)
	} else if c.creds.User != "" {
		req.SetBasicAuth(c.creds.User, c.creds.Password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, URL: rawURL, Body: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type cloudPage struct {
	Values []struct {
		Slug  string `json:"slug"`
		Links struct {
			Clone []struct {
				Name string `json:"name"`
				Href string `json:"href"`
			} `json:"clone"`
		} `json:"links"`
	} `json:"values"`
	Next string `json:"next"`
}

// ListWorkspace pages through all repositories of a Cloud workspace.
func (c *Client) ListWorkspace(ctx context.Context, apiBase, workspace string) ([]Repository, error) {
	if apiBase == "" {
		apiBase = CloudAPIBase
	}
	next := fmt.Sprintf("%s/repositories/%s?pagelen=100", apiBase, url.PathEscape(workspace))

	var repos []Repository
	for next != "" {
		var page cloudPage
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, v := range page.Values {
			href := ""
			for _, clone := range v.Links.Clone {
				if clone.Name == "https" {
					href = clone.Href
					break
				}
			}
			if href == "" && len(v.Links.Clone) > 0 {
				href = v.Links.Clone[0].Href
			}
			repos = append(repos, Repository{Slug: v.Slug, URL: href})
		}
		next = page.Next
	}

	return repos, nil
}

type serverPage struct {
	Values []struct {
		Slug  string `json:"slug"`
		Links struct {
			Clone []struct {
				Name string `json:"name"`
				Href string `json:"href"`
			} `json:"clone"`
		} `json:"links"`
	} `json:"values"`
	IsLastPage    bool `json:"isLastPage"`
	NextPageStart int  `json:"nextPageStart"`
}

// ListProject pages through all repositories of a Server/DC project.
func (c *Client) ListProject(ctx context.Context, baseURL, projectKey string) ([]Repository, error) {
	base := strings.TrimRight(baseURL, "/")

	var repos []Repository
	start := 0
	for {
		pageURL := fmt.Sprintf("%s/rest/api/1.0/projects/%s/repos?limit=100&start=%d",
			base, url.PathEscape(projectKey), start)

		var page serverPage
		if err := c.getJSON(ctx, pageURL, &page); err != nil {
			return nil, err
		}
		for _, v := range page.Values {
			href := ""
			for _, clone := range v.Links.Clone {
				if clone.Name == "http" || clone.Name == "https" {
					href = clone.Href
					break
				}
			}
			if href == "" && len(v.Links.Clone) > 0 {
				href = v.Links.Clone[0].Href
			}
			repos = append(repos, Repository{Slug: v.Slug, URL: href})
		}
		if page.IsLastPage {
			break
		}
		start = page.NextPageStart
	}

	return repos, nil
}
