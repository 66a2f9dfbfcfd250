package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classcomm/classcomm/internal/dateparse"
	"github.com/classcomm/classcomm/internal/models"
	"github.com/classcomm/classcomm/internal/output"
	"github.com/classcomm/classcomm/internal/syncconfig"
	"github.com/spf13/cobra"
)

var reminderCmd = &cobra.Command{
	Use:     "reminder",
	Short:   "Follow-up reminders on communications",
	GroupID: "records",
}

var reminderAddCmd = &cobra.Command{
	Use:   "add <communication-id> <description>",
	Short: "Add a follow-up reminder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		due, _ := cmd.Flags().GetString("due")

		dueDate, err := dateparse.ParseDue(due)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		commID, err := resolveRecordID(store, "communications", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		rem := models.Reminder{
			ID:              uuid.NewString(),
			UserID:          syncconfig.GetUserID(),
			CommunicationID: commID,
			DueDate:         dueDate.UnixMilli(),
			Description:     args[1],
			CreatedAt:       time.Now().UnixMilli(),
		}
		doc, err := json.Marshal(rem)
		if err != nil {
			return fmt.Errorf("encode reminder: %w", err)
		}
		if _, err := store.Put("reminders", rem.ID, doc); err != nil {
			output.Error("add reminder: %v", err)
			return err
		}
		output.Success("Reminder due %s: %s", dueDate.Format("2006-01-02"), rem.Description)
		return nil
	},
}

var reminderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open reminders, soonest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		all, _ := cmd.Flags().GetBool("all")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.List("reminders")
		if err != nil {
			output.Error("list reminders: %v", err)
			return err
		}

		var rems []models.Reminder
		for _, rec := range recs {
			var r models.Reminder
			if err := json.Unmarshal(rec.Data, &r); err != nil {
				return fmt.Errorf("decode reminder %s: %w", rec.ID, err)
			}
			if r.Completed && !all {
				continue
			}
			rems = append(rems, r)
		}
		sort.Slice(rems, func(i, j int) bool {
			return rems[i].DueDate < rems[j].DueDate
		})

		if asJSON {
			return output.JSON(rems)
		}
		if len(rems) == 0 {
			output.Info("no open reminders")
			return nil
		}
		now := time.Now().UnixMilli()
		for _, r := range rems {
			due := time.UnixMilli(r.DueDate).Format("2006-01-02")
			switch {
			case r.Completed:
				fmt.Printf("%s  done      %s\n", due, r.Description)
			case r.DueDate < now:
				fmt.Printf("%s  OVERDUE   %s\n", due, r.Description)
			default:
				fmt.Printf("%s  open      %s\n", due, r.Description)
			}
		}
		return nil
	},
}

var reminderDoneCmd = &cobra.Command{
	Use:   "done <reminder-id>",
	Short: "Mark a reminder completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveRecordID(store, "reminders", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		rec, err := store.Get("reminders", id)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		var rem models.Reminder
		if err := json.Unmarshal(rec.Data, &rem); err != nil {
			return fmt.Errorf("decode reminder %s: %w", id, err)
		}
		if rem.Completed {
			output.Info("already completed")
			return nil
		}
		rem.Completed = true
		rem.CompletedAt = time.Now().UnixMilli()

		doc, err := json.Marshal(rem)
		if err != nil {
			return fmt.Errorf("encode reminder: %w", err)
		}
		if _, err := store.Put("reminders", id, doc); err != nil {
			output.Error("complete reminder: %v", err)
			return err
		}
		output.Success("Completed: %s", rem.Description)
		return nil
	},
}

var reminderRmCmd = &cobra.Command{
	Use:   "rm <reminder-id>",
	Short: "Delete a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveRecordID(store, "reminders", args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if _, err := store.Delete("reminders", id); err != nil {
			output.Error("delete reminder: %v", err)
			return err
		}
		output.Success("Deleted reminder %s", id)
		return nil
	},
}

func init() {
	reminderAddCmd.Flags().String("due", "tomorrow", "due date: 2026-03-01, +3d, friday, next-week")
	reminderListCmd.Flags().Bool("json", false, "output as JSON")
	reminderListCmd.Flags().Bool("all", false, "include completed reminders")
	reminderCmd.AddCommand(reminderAddCmd, reminderListCmd, reminderDoneCmd, reminderRmCmd)
	rootCmd.AddCommand(reminderCmd)
}
