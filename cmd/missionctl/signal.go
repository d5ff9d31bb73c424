package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/missionctl/internal/mission"
)

var (
	feedbackComment string
	feedbackModify  []string
)

var approveCmd = &cobra.Command{
	Use:   "approve <mission-id>",
	Short: "Approve a mission waiting for human feedback",
	Long: `Send approving feedback to a mission. Feedback sent before the mission
reaches the approval step is held until it gets there.

Examples:
  missionctl approve 3f2a... --comment "ship it"
  missionctl approve 3f2a... --modify "rename the app to Tasks"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFeedback(cmd, args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <mission-id>",
	Short: "Reject a mission waiting for human feedback",
	Long:  `Send rejecting feedback to a mission. A rejected mission fails with the comment as its reason.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendFeedback(cmd, args[0], false)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <mission-id>",
	Short: "Cancel a running mission",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVarP(&feedbackComment, "comment", "m", "", "Comment recorded with the decision")
	}
	approveCmd.Flags().StringArrayVar(&feedbackModify, "modify", nil, "Modification request passed to deploy (repeatable)")
}

func sendFeedback(cmd *cobra.Command, missionID string, approved bool) error {
	if !approved && feedbackComment == "" {
		return errors.New("reject requires --comment")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	sig, err := mission.FeedbackSignal(mission.Feedback{
		Approved:      approved,
		Comment:       feedbackComment,
		Modifications: feedbackModify,
	})
	if err != nil {
		return err
	}
	if err := a.engine.Signal(ctx, missionID, sig); err != nil {
		return fmt.Errorf("send feedback: %w", err)
	}

	verdict := okColor.Sprint("approval")
	if !approved {
		verdict = warnColor.Sprint("rejection")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to mission %s\n", verdict, missionID)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Cancel(ctx, args[0]); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancellation sent to mission %s\n", args[0])
	return nil
}
