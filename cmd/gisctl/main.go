// Command gisctl uploads GIS files to a gisserver and inspects them locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/webgis/backend/internal/auth"
	"github.com/webgis/backend/internal/client"
	"github.com/webgis/backend/internal/config"
	"github.com/webgis/backend/internal/ingest"
	"github.com/webgis/backend/internal/logging"
	"github.com/webgis/backend/pkg/core"
)

const usage = `usage: gisctl <command> [flags]

commands:
  upload   create a layer from a file
  append   add the features of a file to an existing layer
  decode   decode a file locally and print its features
  health   check that the server is up
  token    sign a bearer token for a user id
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "gisctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("no command given")
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]
	switch cmd {
	case "upload":
		return runUpload(ctx, rest, out)
	case "append":
		return runAppend(ctx, rest, out)
	case "decode":
		return runDecode(ctx, rest, out)
	case "health":
		return runHealth(ctx, rest, out)
	case "token":
		return runToken(rest, out)
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serverFlags(fs *pflag.FlagSet) (server, token *string) {
	server = fs.String("server", envOr("GIS_SERVER", "http://localhost:8000"), "gisserver base URL")
	token = fs.String("token", os.Getenv("GIS_TOKEN"), "bearer token")
	return server, token
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runUpload(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("upload", pflag.ContinueOnError)
	server, token := serverFlags(fs)
	projectID := fs.Uint("project", 0, "target project id")
	name := fs.String("name", "", "layer name, defaults to the file name")
	priority := fs.Int("priority", 0, "layer z-index")
	fill := fs.String("fill", "", "fill color")
	stroke := fs.String("stroke", "", "stroke color")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return errors.New("upload takes at most one file")
	}
	path := fs.Arg(0)

	form := core.LayerUploadForm{
		Name:      *name,
		Priority:  priority,
		ProjectID: *projectID,
	}
	if form.Name == "" && path != "" {
		form.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if *fill != "" {
		form.FillColor = fill
	}
	if *stroke != "" {
		form.StrokeColor = stroke
	}

	res, err := client.New(*server, *token).UploadLayer(ctx, path, form)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: layer %d (%s), %d features, upload %s\n",
		res.Message, res.Layer.ID, res.Layer.Name, res.FeatureCount, res.UploadID)
	return nil
}

func runAppend(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("append", pflag.ContinueOnError)
	server, token := serverFlags(fs)
	layerID := fs.Uint("layer", 0, "target layer id")
	fromLayer := fs.Uint("from-layer", 0, "copy all features of this layer")
	fromFeature := fs.Uint("from-feature", 0, "copy this single feature")
	if err := fs.Parse(args); err != nil {
		return err
	}

	form := core.FeatureUploadForm{LayerID: *layerID}
	if *fromLayer != 0 {
		form.LayerCommunityID = fromLayer
	}
	if *fromFeature != 0 {
		form.FeatureCommunityID = fromFeature
	}

	res, err := client.New(*server, *token).AppendFeatures(ctx, fs.Arg(0), form)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d features added to layer %d\n", res.Message, res.FeatureCount, res.Layer.ID)
	return nil
}

type decodedFeature struct {
	Name       *string         `json:"name"`
	Geometry   string          `json:"geometry_type"`
	Properties json.RawMessage `json:"properties"`
}

type decodeReport struct {
	File     string           `json:"file"`
	Format   core.Format      `json:"format"`
	Count    int              `json:"feature_count"`
	Features []decodedFeature `json:"features,omitempty"`
}

func runDecode(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	summary := fs.Bool("summary", false, "print only the format and feature count")
	reproject := fs.Bool("reproject-web-mercator", false, "reproject EPSG:3857 input to WGS84")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("decode takes exactly one file")
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	log := logging.NewSlogManager().Logger()
	svc := ingest.NewService(nil, config.IngestConfig{ReprojectWebMercator: *reproject}, log)
	format, features, err := svc.Decode(ctx, core.UploadFile{Filename: filepath.Base(path), Data: data})
	if err != nil {
		return err
	}

	report := decodeReport{File: path, Format: format, Count: len(features)}
	if !*summary {
		report.Features = make([]decodedFeature, len(features))
		for i, f := range features {
			report.Features[i] = decodedFeature{
				Name:       f.Name,
				Geometry:   f.Geometry.Type().String(),
				Properties: json.RawMessage(f.Properties),
			}
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("health", pflag.ContinueOnError)
	server, _ := serverFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := client.New(*server, "").Healthcheck(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("GIS_AUTH_JWTSECRET"), "HMAC signing secret")
	issuer := fs.String("issuer", os.Getenv("GIS_AUTH_ISSUER"), "token issuer")
	userID := fs.Uint("user", 0, "user id")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 {
		return errors.New("--user is required")
	}

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: *secret, Issuer: *issuer})
	if err != nil {
		return err
	}
	token, err := tokens.GenerateToken(*userID, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
