package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/opsdeck/awsprofile"
	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/sym"
)

// ProfileCmd manages AWS credential profiles
var ProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: sym.Profile + " Manage AWS credential profiles",
	Long: sym.Profile + ` profile — AWS credential profiles

Executions run with the selected profile's credentials in their environment
(AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_DEFAULT_REGION).

Examples:
  opsdeck profile add dev --access-key AKIA... --secret-key ... --region eu-west-1 --default
  opsdeck profile validate dev    # sts:GetCallerIdentity
  opsdeck profile ls`,
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a profile",
	Long: `Add a profile. Keys default to AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY
from the environment so they need not appear in shell history.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileAdd,
}

var profileListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List profiles",
	RunE:    runProfileList,
}

var profileRemoveCmd = &cobra.Command{
	Use:   "rm <profile>",
	Short: "Remove a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileRemove,
}

var profileValidateCmd = &cobra.Command{
	Use:   "validate <profile>",
	Short: "Check a profile's credentials against AWS STS",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileValidate,
}

var (
	profileAccessKey  string
	profileSecretKey  string
	profileRegion     string
	profileDefault    bool
	profileNoValidate bool
)

func init() {
	profileAddCmd.Flags().StringVar(&profileAccessKey, "access-key", "", "AWS access key id (default: $AWS_ACCESS_KEY_ID)")
	profileAddCmd.Flags().StringVar(&profileSecretKey, "secret-key", "", "AWS secret access key (default: $AWS_SECRET_ACCESS_KEY)")
	profileAddCmd.Flags().StringVar(&profileRegion, "region", catalog.DefaultRegion, "Default region")
	profileAddCmd.Flags().BoolVar(&profileDefault, "default", false, "Use this profile when none is given")
	profileAddCmd.Flags().BoolVar(&profileNoValidate, "no-validate", false, "Store without checking the credentials")

	ProfileCmd.AddCommand(profileAddCmd)
	ProfileCmd.AddCommand(profileListCmd)
	ProfileCmd.AddCommand(profileRemoveCmd)
	ProfileCmd.AddCommand(profileValidateCmd)
}

func runProfileAdd(cmd *cobra.Command, args []string) error {
	p := catalog.Profile{
		Name:      args[0],
		AccessKey: firstNonEmpty(profileAccessKey, os.Getenv("AWS_ACCESS_KEY_ID")),
		SecretKey: firstNonEmpty(profileSecretKey, os.Getenv("AWS_SECRET_ACCESS_KEY")),
		Region:    profileRegion,
		IsDefault: profileDefault,
	}

	ctx := cmd.Context()
	if !profileNoValidate {
		identity, err := identify(ctx, p)
		if err != nil {
			return errors.WithHint(err, "pass --no-validate to store the profile anyway")
		}
		pterm.Info.Printfln("Credentials belong to %s (account %s)", identity.Arn, identity.Account)
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.profiles.Create(ctx, &p); err != nil {
		return err
	}
	pterm.Success.Printfln("%s Profile %q added (id %d)", sym.Profile, p.Name, p.ID)
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	profiles, err := s.profiles.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		pterm.Info.Println("No profiles configured")
		return nil
	}

	data := pterm.TableData{{"ID", "Name", "Access key", "Region", "Default"}}
	for _, p := range profiles {
		def := ""
		if p.IsDefault {
			def = "✓"
		}
		data = append(data, []string{fmt.Sprint(p.ID), p.Name, p.MaskedAccessKey(), p.Region, def})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runProfileRemove(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	p, err := resolveProfile(ctx, s, args[0])
	if err != nil {
		return err
	}
	if err := s.profiles.Delete(ctx, p.ID); err != nil {
		return err
	}
	pterm.Success.Printfln("Profile %q removed", p.Name)
	return nil
}

func runProfileValidate(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	p, err := resolveProfile(ctx, s, args[0])
	if err != nil {
		return err
	}
	identity, err := identify(ctx, *p)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Profile %q is valid", sym.Profile, p.Name)
	fmt.Printf("  Account: %s\n  ARN:     %s\n  UserID:  %s\n", identity.Account, identity.Arn, identity.UserID)
	return nil
}

func identify(ctx context.Context, p catalog.Profile) (*awsprofile.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	spinner, _ := pterm.DefaultSpinner.Start("Checking credentials with AWS STS...")
	identity, err := awsprofile.NewSTSValidator(logger.ComponentLogger("awsprofile")).Identify(ctx, p)
	if spinner != nil {
		spinner.Stop()
	}
	return identity, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
