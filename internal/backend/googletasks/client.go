// Package googletasks implements service.Collection on a Google Tasks list.
//
// Google Tasks has no change feed, so listeners poll the list and are nudged
// right after every local write.
package googletasks

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"todosync/internal/config"
	"todosync/internal/credential"
	"todosync/internal/service"
	"todosync/internal/task"
)

const (
	// DefaultListID is the special ID for the default list.
	DefaultListID = "@default"

	// PageSize is the number of tasks per page.
	PageSize = 100

	// APITimeout is the timeout for API calls.
	APITimeout = 5 * time.Second

	// DefaultPollInterval is used when Options.PollInterval is zero.
	DefaultPollInterval = 30 * time.Second

	// TasksScope grants read/write access to Google Tasks.
	TasksScope = "https://www.googleapis.com/auth/tasks"
)

// Scopes are the OAuth scopes requested at login.
var Scopes = []string{TasksScope, oauth2api.UserinfoEmailScope}

// Options configures a Client.
type Options struct {
	// List is the task list used as the collection. Defaults to @default.
	List         string
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Client implements service.Backend using Google Tasks API.
type Client struct {
	svc  *tasks.Service
	ids  service.IdentityProvider
	list string
	poll time.Duration
	log  *zap.Logger

	mu      sync.Mutex
	gids    map[string]string // record ID -> Google task ID
	nudges  map[int]chan struct{}
	nextSub int
}

// New creates a client authorized with the stored token.
// Requires oauth_client.json and a token to exist.
func New(ctx context.Context, cfg *config.Config, tokens credential.TokenStore, ids service.IdentityProvider) (*Client, error) {
	oauthConfig, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}

	token, err := tokens.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	// Create HTTP client with a token source that auto-refreshes
	httpClient := oauth2.NewClient(ctx, oauthConfig.TokenSource(ctx, token))

	return NewWithHTTPClient(ctx, httpClient, ids, Options{
		List:         cfg.Settings.GoogleTasks.List,
		PollInterval: cfg.Settings.Sync.PollInterval,
		Logger:       cfg.Logger,
	})
}

// NewWithHTTPClient creates a client with a custom HTTP client.
// Extra client options, such as a test endpoint, are passed through.
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, ids service.IdentityProvider, opts Options, extra ...option.ClientOption) (*Client, error) {
	svc, err := tasks.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(httpClient)}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}
	if opts.List == "" {
		opts.List = DefaultListID
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		svc:    svc,
		ids:    ids,
		list:   opts.List,
		poll:   opts.PollInterval,
		log:    opts.Logger.Named("googletasks"),
		gids:   make(map[string]string),
		nudges: make(map[int]chan struct{}),
	}, nil
}

// OAuthConfig reads oauth_client.json from the config directory.
func OAuthConfig(cfg *config.Config) (*oauth2.Config, error) {
	clientJSON, err := os.ReadFile(cfg.OAuthClientPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", credential.ErrNoOAuthClient, cfg.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read oauth_client.json: %w", err)
	}
	oauthConfig, err := google.ConfigFromJSON(clientJSON, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth_client.json: %w", err)
	}
	return oauthConfig, nil
}

// FetchIdentity asks Google who the token in httpClient belongs to.
func FetchIdentity(ctx context.Context, httpClient *http.Client, extra ...option.ClientOption) (service.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	svc, err := oauth2api.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(httpClient)}, extra...)...)
	if err != nil {
		return service.Identity{}, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return service.Identity{}, wrapError(err)
	}
	if info.Id == "" {
		return service.Identity{}, errors.New("userinfo response has no user id")
	}
	return service.Identity{ID: info.Id, Email: info.Email}, nil
}

// CurrentUser implements service.IdentityProvider.
func (c *Client) CurrentUser(ctx context.Context) (service.Identity, error) {
	return c.ids.CurrentUser(ctx)
}

// Write implements service.Collection. Known records are replaced in place;
// new ones are inserted.
func (c *Client) Write(ctx context.Context, ownerID, taskID string, t task.Task) error {
	if err := c.checkOwner(ctx, ownerID); err != nil {
		return err
	}
	t.ID = taskID
	gt, err := encode(t)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	if gid, ok := c.lookup(taskID); ok {
		gt.Id = gid
		_, err := c.svc.Tasks.Update(c.list, gid, gt).Context(ctx).Do()
		if err == nil {
			c.nudge()
			return nil
		}
		if !isNotFound(err) {
			return wrapError(err)
		}
		// Deleted remotely in the meantime; write it again.
		gt.Id = ""
	}

	created, err := c.svc.Tasks.Insert(c.list, gt).Context(ctx).Do()
	if err != nil {
		return wrapError(err)
	}
	c.remember(taskID, created.Id)
	c.nudge()
	return nil
}

// Delete implements service.Collection.
func (c *Client) Delete(ctx context.Context, ownerID, taskID string) error {
	if err := c.checkOwner(ctx, ownerID); err != nil {
		return err
	}
	gid, ok := c.lookup(taskID)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	err := c.svc.Tasks.Delete(c.list, gid).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return wrapError(err)
	}
	c.forget(taskID)
	c.nudge()
	return nil
}

// Listen implements service.Collection. The first listing is fetched before
// Listen returns so credential problems surface immediately.
func (c *Client) Listen(ctx context.Context, ownerID string, fn func(service.Snapshot)) (service.Subscription, error) {
	if err := c.checkOwner(ctx, ownerID); err != nil {
		return nil, err
	}
	first, err := c.fetch(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	nudge := make(chan struct{}, 1)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.nudges[id] = nudge
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(first)

		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-nudge:
			}
			snap, err := c.fetch(ctx, ownerID)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("polling task list failed", zap.String("list", c.list), zap.Error(err))
				}
				continue
			}
			fn(snap)
		}
	}()

	return service.SubscriptionFunc(func() {
		c.mu.Lock()
		delete(c.nudges, id)
		c.mu.Unlock()
		cancel()
		<-done
	}), nil
}

// fetch lists every task in the list and decodes it. Records that fail to
// decode are reported individually.
func (c *Client) fetch(ctx context.Context, ownerID string) (service.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	var (
		snap service.Snapshot
		gids = make(map[string]string)
	)
	err := c.svc.Tasks.List(c.list).
		MaxResults(PageSize).
		ShowCompleted(true).
		ShowHidden(true).
		ShowDeleted(false).
		Pages(ctx, func(resp *tasks.Tasks) error {
			for _, gt := range resp.Items {
				t, err := decode(gt, ownerID)
				if err != nil {
					snap.Skipped = append(snap.Skipped, &service.DecodeError{TaskID: gt.Id, Err: err})
					continue
				}
				gids[t.ID] = gt.Id
				snap.Tasks = append(snap.Tasks, t)
			}
			return nil
		})
	if err != nil {
		return service.Snapshot{}, wrapError(err)
	}

	task.SortByTitle(snap.Tasks)
	// Merge rather than replace: an insert may have finished while the
	// listing was in flight.
	c.mu.Lock()
	for id, gid := range gids {
		c.gids[id] = gid
	}
	c.mu.Unlock()
	return snap, nil
}

func (c *Client) checkOwner(ctx context.Context, ownerID string) error {
	id, err := c.ids.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if id.ID != ownerID {
		return fmt.Errorf("list belongs to %s, not %s", id.ID, ownerID)
	}
	return nil
}

func (c *Client) lookup(taskID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gid, ok := c.gids[taskID]; ok {
		return gid, true
	}
	return googleID(taskID)
}

func (c *Client) remember(taskID, gid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gids[taskID] = gid
}

func (c *Client) forget(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.gids, taskID)
}

func (c *Client) nudge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.nudges {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// wrapError wraps API errors with user-friendly messages.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	// Check for timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timed out: %w", err)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w (run: todosync login)", service.ErrCredentialsRevoked)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w (run: todosync login)", service.ErrCredentialsRevoked)
		case http.StatusNotFound:
			return fmt.Errorf("not found: %w", err)
		}
	}

	return err
}
