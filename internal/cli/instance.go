package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewCommands создаёт команды управления instances.
func NewCommands(clientFn func() *Client, outputFn func() *Output) []*cobra.Command {
	return []*cobra.Command{
		newStartCmd(clientFn, outputFn),
		newStatusCmd(clientFn, outputFn),
		newShowCmd(clientFn, outputFn),
		newHistoryCmd(clientFn, outputFn),
		newTerminateCmd(clientFn, outputFn),
	}
}

func newStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var input string
	var instanceID string

	cmd := &cobra.Command{
		Use:   "start [NAME]",
		Short: "Start an orchestration (default: messaging)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var name string
			if len(args) == 1 {
				name = args[0]
			}

			var raw json.RawMessage
			if input != "" {
				if !json.Valid([]byte(input)) {
					return fmt.Errorf("invalid --input: not a JSON value")
				}
				raw = json.RawMessage(input)
			}

			handle, err := client.Start(name, raw, instanceID)
			if err != nil {
				return err
			}

			if handle.Created {
				out.Success(fmt.Sprintf("Instance started: %s", handle.ID))
			} else {
				out.Success(fmt.Sprintf("Instance already exists: %s", handle.ID))
			}
			out.Print(
				[]string{"ID", "NAME", "STATUS_URI"},
				[][]string{{handle.ID, handle.Name, handle.StatusQueryGetURI}},
				handle,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Orchestration input as JSON")
	cmd.Flags().StringVar(&instanceID, "id", "", "Instance ID (generated if not specified)")

	return cmd
}

func newStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List instances that are not completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			instances, err := client.ListInstances()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "STATUS", "PARENT", "CREATED"}
			rows := make([][]string, len(instances))
			for i, inst := range instances {
				rows[i] = []string{inst.ID, inst.Name, inst.Status, inst.ParentID, inst.CreatedAt}
			}

			out.Print(headers, rows, instances)
			return nil
		},
	}
}

func newShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show instance details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			inst, err := client.GetInstance(args[0])
			if err != nil {
				return err
			}

			detail := inst.Error
			if inst.Status == "TERMINATED" {
				detail = inst.Reason
			}

			out.Print(
				[]string{"ID", "NAME", "STATUS", "DETAIL", "OUTPUT", "CREATED"},
				[][]string{{inst.ID, inst.Name, inst.Status, detail, string(inst.Output), inst.CreatedAt}},
				inst,
			)
			return nil
		},
	}
}

func newHistoryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "Show instance history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.History(args[0])
			if err != nil {
				return err
			}

			headers := []string{"SEQ", "TYPE", "TIMESTAMP", "PAYLOAD"}
			rows := make([][]string, len(events))
			for i, ev := range events {
				rows[i] = []string{strconv.Itoa(ev.Seq), ev.Type, ev.Timestamp, string(ev.Payload)}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}
}

func newTerminateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "terminate ID",
		Short: "Request termination of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.Terminate(args[0], reason)
			if err != nil {
				return err
			}

			if result.Outcome == "noop" {
				out.Success(fmt.Sprintf("Nothing to terminate: %s", args[0]))
			} else {
				out.Success(fmt.Sprintf("Termination requested: %s", args[0]))
			}
			out.Print(
				[]string{"ID", "OUTCOME", "REASON"},
				[][]string{{args[0], result.Outcome, result.Reason}},
				result,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Termination reason")

	return cmd
}
