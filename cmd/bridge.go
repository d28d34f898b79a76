package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/psds-microservice/bridge-relay/internal/auth"
	"github.com/psds-microservice/bridge-relay/internal/database"
	"github.com/psds-microservice/bridge-relay/internal/model"
	"github.com/psds-microservice/bridge-relay/internal/service"
	"github.com/spf13/cobra"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Provision and manage bridges from the shell",
}

var (
	createOwner   string
	createReq     model.CreateBridgeRequest
	tokenTTL      time.Duration
	bridgeCmdTime = 30 * time.Second
)

var bridgeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a bridge and print its agent config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if createOwner == "" || createReq.Host == "" || createReq.Username == "" || createReq.Password == "" || createReq.StreamPath == "" {
			return errors.New("--owner, --host, --username, --password and --stream-path are required")
		}
		if createReq.Port < 1 || createReq.Port > 65535 {
			return errors.New("--port must be between 1 and 65535")
		}
		return withBridges(func(ctx context.Context, svc *service.BridgeService) error {
			resp, err := svc.Create(ctx, createOwner, createReq)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Config)
		})
	},
}

var bridgeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned bridges",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridges(func(ctx context.Context, svc *service.BridgeService) error {
			recs, err := svc.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tCAMERA\tSTATUS\tUPDATED")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.UserID, r.CameraID, r.Status, r.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var bridgeRevokeCmd = &cobra.Command{
	Use:   "revoke <bridge-id>",
	Short: "Delete a bridge and its credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridges(func(ctx context.Context, svc *service.BridgeService) error {
			if err := svc.Revoke(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		})
	},
}

var bridgeTokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint an owner bearer token for the provisioning API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.OwnerJWTSecret == "" {
			return errors.New("OWNER_JWT_SECRET is not set; in development the bearer token is the user id")
		}
		tok, err := auth.GenerateToken(args[0], tokenTTL, []byte(cfg.OwnerJWTSecret))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	f := bridgeCreateCmd.Flags()
	f.StringVar(&createOwner, "owner", "", "owning user id")
	f.StringVar(&createReq.Host, "host", "", "camera host")
	f.IntVar(&createReq.Port, "port", 554, "camera RTSP port")
	f.StringVar(&createReq.Username, "username", "", "camera username")
	f.StringVar(&createReq.Password, "password", "", "camera password")
	f.StringVar(&createReq.StreamPath, "stream-path", "", "RTSP stream path")
	f.StringVar(&createReq.CameraID, "camera-id", "", "camera id (default <bridge-id>-camera)")
	f.StringVar(&createReq.BackendURL, "backend-url", "", "backend URL written to the agent config")

	bridgeTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	bridgeCmd.AddCommand(bridgeCreateCmd, bridgeListCmd, bridgeRevokeCmd, bridgeTokenCmd)
	rootCmd.AddCommand(bridgeCmd)
}

func withBridges(fn func(ctx context.Context, svc *service.BridgeService) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if err := database.Prepare(cfg, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), bridgeCmdTime)
	defer cancel()
	creds := service.NewCredentialStore(db, log)
	if err := creds.Load(ctx); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	return fn(ctx, service.NewBridgeService(db, creds, cfg.PublicBackendURL, log))
}
