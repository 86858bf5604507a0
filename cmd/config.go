package cmd

import (
	"errors"
	"fmt"

	"labhub/internal/config"
	"labhub/internal/security"
	"labhub/internal/ui"
	"labhub/pkg/models"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configFlags struct {
	keyring string
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and inspect the LabHub configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or update the configuration interactively",
	Long: `Create or update the configuration interactively. Passwords entered in the
wizard are stored encrypted. Answers default to the current configuration
when one exists.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rootFlags.config)
		if err != nil {
			return err
		}
		redacted := config.Redact(cfg)
		data, err := yaml.Marshal(&redacted)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))

		if err := config.Validate(cfg); err != nil {
			newUI().Warning(err.Error())
		}
		return nil
	},
}

var configEncryptCmd = &cobra.Command{
	Use:   "encrypt-password",
	Short: "Encrypt a password for use in the configuration file",
	Long: `Encrypt a password for use in the configuration file. The printed ENC[...]
value can replace a plain password. With --keyring the password is stored in
the OS keyring instead and a keyring:NAME reference is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := ui.Password("Password:", "The value is not echoed")
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		cm := security.NewCredentialManager()
		var value string
		if configFlags.keyring != "" {
			value, err = cm.Store(configFlags.keyring, password)
		} else {
			value, err = cm.Encrypt(password)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

func init() {
	configEncryptCmd.Flags().StringVar(&configFlags.keyring, "keyring", "", "Store the password in the OS keyring under this name")

	configCmd.AddCommand(configInitCmd, configShowCmd, configEncryptCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	u := newUI()
	path := rootFlags.config
	if path == "" {
		path = config.GetConfigFile()
	}

	base := config.Default()
	if config.Exists(path) {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		base = loaded
	}

	cfg, err := ui.NewConfigWizard().Run(base)
	if errors.Is(err, ui.ErrWizardCancelled) {
		u.Info("Configuration not saved")
		return nil
	}
	if err != nil {
		return err
	}

	if err := saveConfig(cfg, path, security.NewCredentialManager()); err != nil {
		return err
	}
	u.Success(fmt.Sprintf("Configuration saved to %s", path))

	if err := config.Validate(cfg); err != nil {
		u.Warning(err.Error())
	}
	return nil
}

// saveConfig encrypts plain passwords before writing cfg
func saveConfig(cfg *models.Config, path string, cm *security.CredentialManager) error {
	if err := config.EncryptConfigPasswords(cfg, cm); err != nil {
		return err
	}
	return config.Save(cfg, path)
}
