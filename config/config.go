// Package config manages the repo-zoek project dir and its config file
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/utilitywarehouse/repo-zoek/auth"
	"github.com/utilitywarehouse/repo-zoek/internal/utils"
	"github.com/utilitywarehouse/repo-zoek/mirror"
	"github.com/utilitywarehouse/repo-zoek/repolist"
)

const (
	EnvDir = "REPO_ZOEK_DIR"

	FileName         = "repo-zoek.yaml"
	RepoListFileName = "repos.ndjson"
	ReposDirName     = "repos"
	IndexDirName     = "index"

	DefaultGraphQLURL    = "https://api.github.com/graphql"
	defaultCloneURLField = repolist.CloneURLFieldSSH
	defaultPageSize      = 80
	defaultPageInterval  = 3 * time.Second
	defaultZoektIndexBin = "zoekt-index"

	// maximum page size allowed by the GitHub GraphQL API
	maxPageSize = 100
)

var (
	ErrNotExist = errors.New("repo-zoek project does not exist")
	ErrExist    = errors.New("repo-zoek project already exists")
)

// Config is the content of the project config file
type Config struct {
	// GithubGraphQLURL is the GraphQL endpoint, set for GitHub Enterprise
	GithubGraphQLURL string `yaml:"github_graphql_url"`

	// OrgLogin is the login name of the mirrored organisation
	OrgLogin string `yaml:"org_login"`

	// Blacklist contains repository names which are never mirrored or indexed
	Blacklist []string `yaml:"blacklist"`

	// MaxDiskUsageKB skips repositories with larger disk usage if set
	MaxDiskUsageKB *int64 `yaml:"max_disk_usage_kb"`

	// CloneURLField selects which url of the cached record is cloned.
	// valid values are 'sshUrl' or 'url'
	CloneURLField string `yaml:"clone_url_field"`

	// PageSize is the number of repositories requested per API page
	PageSize int `yaml:"page_size"`

	// PageInterval is the minimum time between two API page requests
	PageInterval time.Duration `yaml:"page_interval"`

	// GitTimeout limits each git operation, 0 means no limit
	GitTimeout time.Duration `yaml:"git_timeout"`

	// ZoektIndexBin is the zoekt-index executable
	ZoektIndexBin string `yaml:"zoekt_index_bin"`

	// ZoektIndexTimeout limits indexing of a single repository, 0 means no limit
	ZoektIndexTimeout time.Duration `yaml:"zoekt_index_timeout"`

	// Auth config to list and fetch remote repos
	Auth Auth `yaml:"auth"`

	base string
}

// Auth represents authentication config of the API and the remotes
type Auth struct {
	// username to use for basic or token based authentication
	Username string `yaml:"username"`

	// password or personal access token to use for authentication
	Password string `yaml:"password"`

	// SSH Details
	// path to the ssh key used to fetch remote
	SSHKeyPath string `yaml:"ssh_key_path"`

	// path to the known hosts of the remote host
	SSHKnownHostsPath string `yaml:"ssh_known_hosts_path"`

	// Github APP Details
	// The application id or the client ID of the Github app
	GithubAppID string `yaml:"github_app_id"`
	// The installation id of the app (in the organization).
	GithubAppInstallationID string `yaml:"github_app_installation_id"`
	// path to the github app private key
	GithubAppPrivateKeyPath string `yaml:"github_app_private_key_path"`
}

// Resolve returns absolute project dir path with '~' expanded
func Resolve(base string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("no repo-zoek project dir supplied, use --dir or %s", EnvDir)
	}
	expanded, err := utils.ExpandPath(base)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

// Load reads and validates the config file of the project at base
func Load(base string) (*Config, error) {
	base, err := Resolve(base)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(base, FileName)
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config file %s not found", ErrNotExist, path)
		}
		return nil, fmt.Errorf("unable to read config file err:%w", err)
	}

	conf, err := parse(yamlFile)
	if err != nil {
		return nil, fmt.Errorf("invalid config file %s err:%w", path, err)
	}
	conf.base = base

	if err := conf.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("invalid config file %s err:%w", path, err)
	}
	return conf, nil
}

// Init creates a new project dir at base and writes given config into it.
// It fails if base already exists.
func Init(base string, conf Config) (*Config, error) {
	base, err := Resolve(base)
	if err != nil {
		return nil, err
	}

	exists, err := utils.DirExists(base)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExist, base)
	}
	if _, err := os.Lstat(base); err == nil {
		return nil, fmt.Errorf("%w: %s is not a dir", ErrExist, base)
	}

	conf.base = base
	if err := conf.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(base, utils.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("unable to create project dir err:%w", err)
	}
	if err := conf.Save(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Save writes config to the project config file
func (c *Config) Save() error {
	if c.base == "" {
		return fmt.Errorf("config is not attached to a project dir")
	}
	exists, err := utils.DirExists(c.base)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotExist, c.base)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("unable to marshal config err:%w", err)
	}

	tmp := c.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("unable to write config file err:%w", err)
	}
	if err := os.Rename(tmp, c.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unable to write config file err:%w", err)
	}
	return nil
}

// ValidateAndApplyDefaults will validate config and apply defaults for
// empty values
func (c *Config) ValidateAndApplyDefaults() error {
	c.applyDefaults()

	if !repolist.ValidCloneURLField(c.CloneURLField) {
		return fmt.Errorf("invalid clone_url_field %q, valid values are %q or %q",
			c.CloneURLField, repolist.CloneURLFieldSSH, repolist.CloneURLFieldHTTPS)
	}
	if c.PageSize < 1 || c.PageSize > maxPageSize {
		return fmt.Errorf("page_size must be between 1 and %d", maxPageSize)
	}
	if c.PageInterval < 0 {
		return fmt.Errorf("page_interval cannot be negative")
	}
	if c.GitTimeout < 0 {
		return fmt.Errorf("git_timeout cannot be negative")
	}
	if c.ZoektIndexTimeout < 0 {
		return fmt.Errorf("zoekt_index_timeout cannot be negative")
	}
	if c.MaxDiskUsageKB != nil && *c.MaxDiskUsageKB < 0 {
		return fmt.Errorf("max_disk_usage_kb cannot be negative")
	}
	if slices.Contains(c.Blacklist, "") {
		return fmt.Errorf("blacklist cannot contain empty name")
	}

	a := c.Auth
	appFields := []string{a.GithubAppID, a.GithubAppInstallationID, a.GithubAppPrivateKeyPath}
	if slices.Contains(appFields, "") && slices.ContainsFunc(appFields, func(s string) bool { return s != "" }) {
		return fmt.Errorf("github_app_id, github_app_installation_id and github_app_private_key_path must be set together")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.GithubGraphQLURL == "" {
		c.GithubGraphQLURL = DefaultGraphQLURL
	}
	if c.CloneURLField == "" {
		c.CloneURLField = defaultCloneURLField
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.PageInterval == 0 {
		c.PageInterval = defaultPageInterval
	}
	if c.ZoektIndexBin == "" {
		c.ZoektIndexBin = defaultZoektIndexBin
	}
}

// Base returns absolute path of the project dir
func (c *Config) Base() string { return c.base }

// Path returns path of the config file
func (c *Config) Path() string { return filepath.Join(c.base, FileName) }

// RepoListPath returns path of the descriptor cache
func (c *Config) RepoListPath() string { return filepath.Join(c.base, RepoListFileName) }

// ReposPath returns the mirror root
func (c *Config) ReposPath() string { return filepath.Join(c.base, ReposDirName) }

// IndexPath returns the zoekt index dir
func (c *Config) IndexPath() string { return filepath.Join(c.base, IndexDirName) }

// Policy returns the reconciliation policy of the project
func (c *Config) Policy(withHistory bool) mirror.Policy {
	return mirror.NewPolicy(c.Blacklist, c.MaxDiskUsageKB, withHistory)
}

// GitAuth returns credentials used by git
func (c *Config) GitAuth() mirror.Auth {
	return mirror.Auth{
		Username:          c.Auth.Username,
		Password:          c.Auth.Password,
		SSHKeyPath:        c.Auth.SSHKeyPath,
		SSHKnownHostsPath: c.Auth.SSHKnownHostsPath,
	}
}

// GithubApp returns the GitHub App used for API auth if configured
func (c *Config) GithubApp() (auth.GithubApp, bool) {
	if c.Auth.GithubAppID == "" {
		return auth.GithubApp{}, false
	}
	return auth.GithubApp{
		AppID:          c.Auth.GithubAppID,
		InstallationID: c.Auth.GithubAppInstallationID,
		PrivateKeyPath: c.Auth.GithubAppPrivateKeyPath,
		APIURL:         apiURL(c.GithubGraphQLURL),
	}, true
}

// apiURL derives the REST API base from the GraphQL endpoint.
// GitHub Enterprise serves GraphQL at /api/graphql and REST at /api/v3.
func apiURL(graphQLURL string) string {
	if graphQLURL == DefaultGraphQLURL {
		return auth.DefaultAPIURL
	}
	base, ok := strings.CutSuffix(graphQLURL, "/graphql")
	if !ok {
		return auth.DefaultAPIURL
	}
	return base + "/v3/"
}

func parse(yamlFile []byte) (*Config, error) {
	if err := validateKeys(yamlFile); err != nil {
		return nil, err
	}

	conf := &Config{}
	if err := yaml.Unmarshal(yamlFile, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// validateKeys checks config sections for unexpected keys
func validateKeys(yamlData []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(yamlData, &raw); err != nil {
		return err
	}

	if key := findUnexpectedKey(raw, getAllowedKeys(Config{})); key != "" {
		return fmt.Errorf("unexpected key: .%v", key)
	}

	if authRaw, ok := raw["auth"]; ok && authRaw != nil {
		authMap, ok := authRaw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("auth section is not valid")
		}
		if key := findUnexpectedKey(authMap, getAllowedKeys(Auth{})); key != "" {
			return fmt.Errorf("unexpected key: .auth.%v", key)
		}
	}
	return nil
}

// getAllowedKeys retrieves a list of allowed keys from the specified struct
func getAllowedKeys(config interface{}) []string {
	var allowedKeys []string
	typ := reflect.TypeOf(config)

	for i := 0; i < typ.NumField(); i++ {
		yamlTag := typ.Field(i).Tag.Get("yaml")
		if yamlTag != "" {
			allowedKeys = append(allowedKeys, yamlTag)
		}
	}
	return allowedKeys
}

func findUnexpectedKey(raw map[string]interface{}, allowedKeys []string) string {
	for key := range raw {
		if !slices.Contains(allowedKeys, key) {
			return key
		}
	}
	return ""
}
