package main

import (
	"errors"
	"os"

	"github.com/spf13/pflag"

	"github.com/danmuck/satlink/internal/config"
	"github.com/danmuck/satlink/internal/logging"
)

func defaultPath(kind string) string {
	switch kind {
	case config.KindSatstream:
		return "cmd/satstream/config.toml"
	case config.KindFakestation:
		return "cmd/fakestation/config.toml"
	default:
		return ""
	}
}

func main() {
	logging.ConfigureRuntime()
	log := logging.WithComponent("configgen")

	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.StringP("kind", "k", config.KindSatstream, "config kind: satstream|fakestation")
	output := fs.StringP("output", "o", "", "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.StringP("input", "i", "", "config path for validation (defaults to per-kind cmd path)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if defaultPath(*kind) == "" {
		log.Fatal().Str("kind", *kind).Msg("configgen unknown kind")
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := config.Validate(path, *kind); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("configgen validate failed")
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("configgen validated")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Str("path", target).Msg("configgen write failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("configgen wrote template")
}
