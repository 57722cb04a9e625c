package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/app"
	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/internal/service"
	"github.com/noah-isme/attendance-engine/pkg/config"
	"github.com/noah-isme/attendance-engine/pkg/logger"
)

type rootOptions struct {
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "roundctl",
		Short:         "Operate attendance rounds outside the HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVarP(&opts.timeout, "timeout", "t", 2*time.Minute, "deadline for the whole command")

	root.AddCommand(
		newTickCmd(opts),
		newEvaluateCmd(opts),
		newCancelRoundCmd(opts),
		newRateCmd(opts),
		newGraphCmd(opts),
		newTokenCmd(),
	)
	return root
}

// withApp boots the engine, runs fn and closes every backend.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) (interface{}, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	engine, err := app.New(ctx, cfg, logr.With(zap.String("cli", cmd.Name())))
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	out, err := fn(ctx, engine)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Apply due round transitions and expire overdue verifications once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Rounds.Tick(ctx)
			})
		},
	}
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	var sessionID, roundID string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate and finalize a completed round",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Calculator.CalculateAttendanceForRound(ctx, sessionID, roundID)
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID")
	cmd.Flags().StringVar(&roundID, "round", "", "round ID")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("round")
	return cmd
}

func newCancelRoundCmd(opts *rootOptions) *cobra.Command {
	var roundID string
	cmd := &cobra.Command{
		Use:   "cancel-round",
		Short: "Cancel a pending or active round",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Rounds.Cancel(ctx, roundID)
			})
		},
	}
	cmd.Flags().StringVar(&roundID, "round", "", "round ID")
	_ = cmd.MarkFlagRequired("round")
	return cmd
}

func newRateCmd(opts *rootOptions) *cobra.Command {
	var studentID, courseID string
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Print a student's attendance rate in a course",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				return a.Aggregation.ComputeAttendanceRate(ctx, studentID, courseID)
			})
		},
	}
	cmd.Flags().StringVar(&studentID, "student", "", "student ID")
	cmd.Flags().StringVar(&courseID, "course", "", "course ID")
	_ = cmd.MarkFlagRequired("student")
	_ = cmd.MarkFlagRequired("course")
	return cmd
}

type graphReport struct {
	RoundID        string                  `json:"round_id"`
	AnchorDeviceID string                  `json:"anchor_device_id"`
	Edges          []service.ProximityEdge `json:"edges"`
	Hops           map[string]int          `json:"hops_to_anchor"`
}

func newGraphCmd(opts *rootOptions) *cobra.Command {
	var roundID string
	var maxHops int
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Dump the proximity graph of a round",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) (interface{}, error) {
				graph, err := a.Graphs.BuildForRound(ctx, roundID)
				if err != nil {
					return nil, err
				}
				return graphReport{
					RoundID:        graph.RoundID,
					AnchorDeviceID: graph.AnchorDeviceID,
					Edges:          graph.Edges(),
					Hops:           graph.Reachable(maxHops),
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&roundID, "round", "", "round ID")
	cmd.Flags().IntVar(&maxHops, "max-hops", 3, "hop limit for reachability")
	_ = cmd.MarkFlagRequired("round")
	return cmd
}

// newTokenCmd issues a development access token. It only needs the JWT settings.
func newTokenCmd() *cobra.Command {
	var userID, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			r := models.UserRole(role)
			switch r {
			case models.RoleAdmin, models.RoleLecturer, models.RoleStudent, models.RoleDevice:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer).IssueToken(userID, r, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "subject user ID")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "ADMIN, LECTURER, STUDENT or DEVICE")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
