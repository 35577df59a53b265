package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/sym"
)

// ScriptCmd manages registered scripts
var ScriptCmd = &cobra.Command{
	Use:   "script",
	Short: sym.Script + " Register and list scripts",
	Long: sym.Script + ` script — Registered scripts

A script is a file run by the configured interpreter (runner.interpreter).

Examples:
  opsdeck script add report ./scripts/report.py --description "Nightly report"
  opsdeck script ls
  opsdeck script rm report`,
}

var scriptAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a script",
	Args:  cobra.ExactArgs(2),
	RunE:  runScriptAdd,
}

var scriptListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List scripts",
	RunE:    runScriptList,
}

var scriptRemoveCmd = &cobra.Command{
	Use:   "rm <script>",
	Short: "Remove a script (its executions are kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runScriptRemove,
}

var (
	scriptDescription string
	scriptParams      string
)

func init() {
	scriptAddCmd.Flags().StringVar(&scriptDescription, "description", "", "What the script does")
	scriptAddCmd.Flags().StringVar(&scriptParams, "params", "", "JSON description of accepted parameters")

	ScriptCmd.AddCommand(scriptAddCmd)
	ScriptCmd.AddCommand(scriptListCmd)
	ScriptCmd.AddCommand(scriptRemoveCmd)
}

func runScriptAdd(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[1])
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", args[1])
	}
	if _, err := os.Stat(path); err != nil {
		return errors.NewInvalidRequestError("script file %s is not readable", path)
	}
	if scriptParams != "" && !json.Valid([]byte(scriptParams)) {
		return errors.NewInvalidRequestError("--params must be valid JSON")
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	owner, err := s.users.Ensure(ctx, currentUsername())
	if err != nil {
		return err
	}

	script := &catalog.Script{
		Name:        args[0],
		Description: scriptDescription,
		Path:        path,
		Parameters:  scriptParams,
		UserID:      &owner.ID,
	}
	if err := s.scripts.Create(ctx, script); err != nil {
		return err
	}
	pterm.Success.Printfln("%s Script %q registered (id %d)", sym.Script, script.Name, script.ID)
	return nil
}

func runScriptList(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	scripts, err := s.scripts.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		pterm.Info.Println("No scripts registered")
		return nil
	}

	data := pterm.TableData{{"ID", "Name", "Path", "Description"}}
	for _, sc := range scripts {
		data = append(data, []string{fmt.Sprint(sc.ID), sc.Name, sc.Path, sc.Description})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runScriptRemove(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	script, err := resolveScript(ctx, s, args[0])
	if err != nil {
		return err
	}
	if err := s.scripts.Delete(ctx, script.ID); err != nil {
		return err
	}
	pterm.Success.Printfln("Script %q removed", script.Name)
	return nil
}
