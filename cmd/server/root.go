package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/logger"
	"github.com/Brownie44l1/xray-api/internal/model"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCommand builds the xray CLI. Flags are bound to v so they take
// precedence over the config file and the environment.
func rootCommand(v *viper.Viper) *cobra.Command {
	var (
		configPath string
		cfg        *config.Config
	)

	rootCmd := &cobra.Command{
		Use:           "xray",
		Short:         "Chest X-ray tuberculosis screening service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringP("model", "m", "", "Path (or blob name) of the model artifact")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("model.path", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		logger.Configure(loaded.Log.Level, loaded.Log.Format)
		*cfg = *loaded
		return nil
	}

	cfg = &config.Config{}
	rootCmd.AddCommand(
		serveCommand(cfg),
		classifyCommand(cfg),
	)
	return rootCmd
}

// artifactSource picks where the model and metadata are fetched from.
func artifactSource(cfg *config.Config) (model.ArtifactSource, error) {
	switch strings.ToLower(cfg.Model.Source) {
	case "", "file":
		return model.FileSource{}, nil
	case "azure":
		return model.NewAzureSource(model.AzureConfig{
			ConnectionString: cfg.Model.Azure.ConnectionString,
			AccountName:      cfg.Model.Azure.AccountName,
			AccountKey:       cfg.Model.Azure.AccountKey,
			Container:        cfg.Model.Azure.Container,
		})
	default:
		return nil, fmt.Errorf("unknown model source %q", cfg.Model.Source)
	}
}

func modelOptions(cfg *config.Config, src model.ArtifactSource) model.Options {
	return model.Options{
		Backend:      cfg.Model.Backend,
		Path:         cfg.Model.Path,
		MetadataPath: cfg.Model.MetadataPath,
		LibraryPath:  cfg.Model.LibraryPath,
		Threads:      cfg.Model.Threads,
		Source:       src,
	}
}

// loadModel returns the process-wide model host.
func loadModel(ctx context.Context, cfg *config.Config) (model.Predictor, error) {
	src, err := artifactSource(cfg)
	if err != nil {
		return nil, err
	}
	return model.Load(ctx, modelOptions(cfg, src))
}
