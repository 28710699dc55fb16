package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/pagination"
	"github.com/cloo-solutions/recall/internal/repository"
	"github.com/cloo-solutions/recall/internal/service"
	"github.com/spf13/cobra"
)

type keyIssuer interface {
	IssueAPIKey(ctx context.Context, tenant, name string) (*service.IssuedKey, error)
}

type keyRevoker interface {
	RevokeAPIKey(ctx context.Context, keyID string) error
}

type keyPager interface {
	ListByScopeWithCursor(ctx context.Context, ownerScope string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.APIKey], error)
}

// apiKeyView is the JSON shape printed by every apikey subcommand.
type apiKeyView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	OwnerScope string     `json:"owner_scope,omitempty"`
	Token      string     `json:"token,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

func viewOf(key *domain.APIKey) apiKeyView {
	created := key.CreatedAt
	return apiKeyView{
		ID:         key.ID,
		Name:       key.Name,
		OwnerScope: key.OwnerScope,
		CreatedAt:  &created,
		RevokedAt:  key.RevokedAt,
		Revoked:    key.IsRevoked(),
	}
}

type apiKeyPage struct {
	Items   []apiKeyView `json:"items"`
	Cursor  string       `json:"cursor,omitempty"`
	HasMore bool         `json:"has_more"`
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, list, and revoke API keys bound to a tenant scope",
	}
	cmd.PersistentFlags().Bool("output", false, "Output as JSON")

	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyListCmd())
	cmd.AddCommand(APIKeyRevokeCmd())

	return cmd
}

// withAPIKeys opens the database for the duration of fn.
func withAPIKeys(ctx context.Context, fn func(repo *repository.APIKeyRepository, auth *service.AuthService) error) error {
	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewAPIKeyRepository(pool)
	return fn(repo, service.NewAuthService(repo, &service.DefaultUUIDGenerator{}))
}

func APIKeyCreateCmd() *cobra.Command {
	var tenant, name string

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a new API key",
		Long:    "Create a new API key for a tenant scope. The token is printed once.",
		Example: "  recalld apikey create --scope acme --name ci",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("output")
			return withAPIKeys(cmd.Context(), func(_ *repository.APIKeyRepository, auth *service.AuthService) error {
				return runAPIKeyCreate(cmd.Context(), cmd.OutOrStdout(), auth, tenant, name, asJSON)
			})
		},
	}

	cmd.Flags().StringVarP(&tenant, "scope", "s", "", "Tenant scope the key grants access to (required)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "API key name (required)")
	cmd.MarkFlagRequired("scope")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runAPIKeyCreate(ctx context.Context, w io.Writer, issuer keyIssuer, tenant, name string, asJSON bool) error {
	issued, err := issuer.IssueAPIKey(ctx, tenant, name)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	if asJSON {
		view := viewOf(issued.Key)
		view.Token = issued.Token
		return writeJSON(w, view)
	}

	fmt.Fprintf(w, "Created key %s (%s) for scope %s\n", issued.Key.ID, issued.Key.Name, issued.Key.OwnerScope)
	fmt.Fprintf(w, "Token: %s\n", issued.Token)
	fmt.Fprintln(w, "\nStore the token now. It cannot be shown again.")
	return nil
}

func APIKeyListCmd() *cobra.Command {
	var (
		tenant string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("output")
			return withAPIKeys(cmd.Context(), func(repo *repository.APIKeyRepository, _ *service.AuthService) error {
				return runAPIKeyList(cmd.Context(), cmd.OutOrStdout(), repo, tenant, cursor, limit, asJSON)
			})
		},
	}

	cmd.Flags().StringVarP(&tenant, "scope", "s", "", "Tenant scope (required)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	cmd.MarkFlagRequired("scope")

	return cmd
}

func runAPIKeyList(ctx context.Context, w io.Writer, pager keyPager, tenant, cursorToken string, limit int, asJSON bool) error {
	if err := domain.ValidateTenantScope(tenant); err != nil {
		return err
	}
	cursor, err := pagination.DecodeCursor(cursorToken)
	if err != nil {
		return fmt.Errorf("invalid cursor: %w", err)
	}
	page, err := pager.ListByScopeWithCursor(ctx, tenant, cursor, limit)
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}

	if asJSON {
		out := apiKeyPage{Items: make([]apiKeyView, 0, len(page.Items)), Cursor: page.Cursor, HasMore: page.HasMore}
		for _, key := range page.Items {
			out.Items = append(out.Items, viewOf(key))
		}
		return writeJSON(w, out)
	}

	if len(page.Items) == 0 {
		fmt.Fprintf(w, "No API keys for scope %s\n", tenant)
		return nil
	}
	for _, key := range page.Items {
		status := "active"
		if key.IsRevoked() {
			status = "revoked"
		}
		fmt.Fprintf(w, "%-36s  %-8s  %s  %s\n", key.ID, status, key.CreatedAt.Format(time.RFC3339), key.Name)
	}
	if page.HasMore {
		fmt.Fprintf(w, "\nNext page: --cursor %s\n", page.Cursor)
	}
	return nil
}

func APIKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("output")
			return withAPIKeys(cmd.Context(), func(_ *repository.APIKeyRepository, auth *service.AuthService) error {
				return runAPIKeyRevoke(cmd.Context(), cmd.OutOrStdout(), auth, args[0], asJSON)
			})
		},
	}
}

func runAPIKeyRevoke(ctx context.Context, w io.Writer, revoker keyRevoker, keyID string, asJSON bool) error {
	if err := revoker.RevokeAPIKey(ctx, keyID); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if asJSON {
		return writeJSON(w, apiKeyView{ID: keyID, Revoked: true})
	}
	fmt.Fprintf(w, "Revoked %s\n", keyID)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
