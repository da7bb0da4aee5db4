package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scanpipe/internal/daemonrun"
	"scanpipe/internal/scan"
)

func newDayLogCommand(ctx *commandContext) *cobra.Command {
	dayLogCmd := &cobra.Command{
		Use:   "daylog",
		Short: "Manage what a user logged for a day",
	}

	var log scan.DayLog
	var selfReported float64
	setCmd := &cobra.Command{
		Use:   "set <user-id> <date>",
		Short: "Create or replace the day log bound into that day's scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := scan.Key{UserID: strings.TrimSpace(args[0]), Date: strings.TrimSpace(args[1])}
			if err := key.Validate(); err != nil {
				return err
			}
			log.UserID, log.Date = key.UserID, key.Date
			if cmd.Flags().Changed("self-reported-kg") {
				log.SelfReportedKg = &selfReported
			}
			log.UpdatedAt = time.Now().UTC()
			return withDayContextWriter(cmd, ctx, func(w scan.DayContextWriter) error {
				if err := w.PutDayLog(cmd.Context(), &log); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved day log for %s %s\n", key.UserID, key.Date)
				return nil
			})
		},
	}
	flags := setCmd.Flags()
	flags.StringVar(&log.Workout, "workout", "", "Workout description")
	flags.IntVar(&log.WorkoutMinutes, "workout-minutes", 0, "Workout duration in minutes")
	flags.IntVar(&log.CaloriesKcal, "calories", 0, "Calories eaten (kcal)")
	flags.IntVar(&log.ProteinGrams, "protein", 0, "Protein eaten (g)")
	flags.Float64Var(&log.SleepHours, "sleep", 0, "Hours slept")
	flags.Float64Var(&log.WaterLiters, "water", 0, "Water drunk (liters)")
	flags.IntVar(&log.StepCount, "steps", 0, "Step count")
	flags.IntVar(&log.PerceivedEffort, "effort", 0, "Perceived effort (1-10)")
	flags.Float64Var(&selfReported, "self-reported-kg", 0, "Scale weight reported by the user")
	flags.StringVar(&log.Notes, "notes", "", "Free-form notes")

	dayLogCmd.AddCommand(setCmd)
	return dayLogCmd
}

func newProfileCommand(ctx *commandContext) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage user profiles and privacy settings",
	}

	var profile scan.Profile
	var target float64
	var privacy scan.PrivacySettings
	setCmd := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Create or replace a user profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile.UserID = strings.TrimSpace(args[0])
			if profile.UserID == "" {
				return fmt.Errorf("user id is required")
			}
			if cmd.Flags().Changed("target-weight-kg") {
				profile.TargetWeightKg = &target
			}
			profile.Privacy = &privacy
			profile.UpdatedAt = time.Now().UTC()
			return withDayContextWriter(cmd, ctx, func(w scan.DayContextWriter) error {
				if err := w.PutUserProfile(cmd.Context(), &profile); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Saved profile for %s\n", profile.UserID)
				if cfg := ctx.configValue(); cfg != nil && cfg.Store.ProfileCacheTTLSeconds > 0 {
					fmt.Fprintf(out, "A running daemon picks it up within %ds\n", cfg.Store.ProfileCacheTTLSeconds)
				}
				return nil
			})
		},
	}
	flags := setCmd.Flags()
	flags.StringVar(&profile.Goal, "goal", "", "Goal (cut, bulk, maintain, recomp)")
	flags.StringVar(&profile.Level, "level", "", "Training level")
	flags.Float64Var(&target, "target-weight-kg", 0, "Target weight in kg")
	flags.StringSliceVar(&profile.Badges, "badge", nil, "Badge earned (repeatable)")
	flags.BoolVar(&privacy.ShowTrend, "show-trend", false, "Publish the trend label")
	flags.BoolVar(&privacy.ShowWeight, "show-weight", false, "Publish weight")
	flags.BoolVar(&privacy.ShowLastInsight, "show-insight", false, "Publish the latest insight")
	flags.BoolVar(&privacy.ShowBadges, "show-badges", false, "Publish badges")
	flags.BoolVar(&privacy.ShowLeanMass, "show-lean-mass", false, "Publish lean mass")
	flags.BoolVar(&privacy.ShowBodyFat, "show-body-fat", false, "Publish body-fat percentage")

	profileCmd.AddCommand(setCmd)
	return profileCmd
}

func withDayContextWriter(cmd *cobra.Command, ctx *commandContext, fn func(scan.DayContextWriter) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := daemonrun.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
