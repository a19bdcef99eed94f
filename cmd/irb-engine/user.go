// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pdiddy/irb-engine/pkg/types"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Register and list users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Register a user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")
		dept, _ := cmd.Flags().GetString("department")
		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			id = uuid.NewString()
		}
		u := types.User{
			ID:         id,
			Email:      strings.ToLower(strings.TrimSpace(args[0])),
			Name:       name,
			Role:       types.Role(role),
			Department: dept,
			CreatedAt:  time.Now(),
		}
		if !u.Role.Valid() {
			return fmt.Errorf("unknown role %q (researcher, irb_member, admin)", role)
		}
		if err := a.store.CreateUser(cmd.Context(), u); err != nil {
			return err
		}
		return show(cmd, u, func(w io.Writer) {
			fmt.Fprintf(w, "Registered %s (%s) as %s\n", u.Email, u.ID, u.Role)
		})
	}),
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		users, err := a.store.Users(cmd.Context())
		if err != nil {
			return err
		}
		return show(cmd, users, func(w io.Writer) {
			for _, u := range users {
				fmt.Fprintf(w, "%-36s  %-28s  %-10s  %s\n", u.ID, u.Email, u.Role, u.Department)
			}
		})
	}),
}

var repCmd = &cobra.Command{
	Use:   "rep",
	Short: "Manage college representatives and the IRB chair",
}

var repSetCmd = &cobra.Command{
	Use:   "set <college> <user>",
	Short: "Make a user the representative of a college",
	Long: `Set assigns the active representative for a college. Colleges are
business, education, liberal_arts, sciences, and nursing. With --chair the
representative also chairs the board; only one chair is active at a time.`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		college := types.College(args[0])
		if !college.Valid() {
			return fmt.Errorf("unknown college %q", args[0])
		}
		u, err := a.store.User(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		chair, _ := cmd.Flags().GetBool("chair")
		inactive, _ := cmd.Flags().GetBool("inactive")
		rep := types.CollegeRepresentative{College: college, UserID: u.ID, IsChair: chair, Active: !inactive}
		if err := a.store.SetRep(cmd.Context(), rep); err != nil {
			return err
		}
		return show(cmd, rep, func(w io.Writer) {
			fmt.Fprintf(w, "%s represents %s (chair: %t, active: %t)\n", u.Email, college, rep.IsChair, rep.Active)
		})
	}),
}

var repListCmd = &cobra.Command{
	Use:   "list",
	Short: "List college representatives",
	RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
		reps, err := a.store.Reps(cmd.Context())
		if err != nil {
			return err
		}
		return show(cmd, reps, func(w io.Writer) {
			for _, r := range reps {
				flags := ""
				if r.IsChair {
					flags += " chair"
				}
				if !r.Active {
					flags += " inactive"
				}
				fmt.Fprintf(w, "%-14s  %s%s\n", r.College, r.UserID, flags)
			}
		})
	}),
}

func init() {
	userAddCmd.Flags().String("name", "", "display name")
	userAddCmd.Flags().String("role", string(types.RoleResearcher), "role: researcher, irb_member, or admin")
	userAddCmd.Flags().String("department", "", "academic department, used for routing")
	userAddCmd.Flags().String("id", "", "user ID (default: generated)")
	userCmd.AddCommand(userAddCmd, userListCmd)

	repSetCmd.Flags().Bool("chair", false, "also make this representative the IRB chair")
	repSetCmd.Flags().Bool("inactive", false, "record the representative as inactive")
	repCmd.AddCommand(repSetCmd, repListCmd)

	rootCmd.AddCommand(userCmd, repCmd)
}
