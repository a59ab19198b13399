package options

import (
	"fmt"
	"slices"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/carthingy/carthingy/internal/carthingy"
	"github.com/carthingy/carthingy/pkg/app"
	"github.com/carthingy/carthingy/pkg/log"
	"github.com/carthingy/carthingy/pkg/options"
)

// Output formats.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var outputFormats = []string{OutputTable, OutputJSON, OutputYAML}

type Options struct {
	QueryOptions    *options.QueryOptions    `json:"query" mapstructure:"query"`
	CarStoreOptions *options.CarStoreOptions `json:"carstore" mapstructure:"carstore"`
	ReportOptions   *options.ReportOptions   `json:"report" mapstructure:"report"`
	MqttOptions     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	S3Options       *options.S3Options       `json:"s3" mapstructure:"s3"`
	HistoryOptions  *options.HistoryOptions  `json:"history" mapstructure:"history"`
	HttpOptions     *options.HttpOptions     `json:"http" mapstructure:"http"`
	RefreshOptions  *options.RefreshOptions  `json:"refresh" mapstructure:"refresh"`
	Log             *log.Options             `json:"log" mapstructure:"log"`

	// Output selects how results are printed: table, json or yaml.
	Output string `json:"output" mapstructure:"output"`
}

var _ app.NamedFlagSetOptions = (*Options)(nil)

func NewOptions() *Options {
	return &Options{
		QueryOptions:    options.NewQueryOptions(),
		CarStoreOptions: options.NewCarStoreOptions(),
		ReportOptions:   options.NewReportOptions(),
		MqttOptions:     options.NewMqttOptions(),
		S3Options:       options.NewS3Options(),
		HistoryOptions:  options.NewHistoryOptions(),
		HttpOptions:     options.NewHttpOptions(),
		RefreshOptions:  options.NewRefreshOptions(),
		Log:             log.NewOptions(),
		Output:          OutputTable,
	}
}

func (o *Options) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.QueryOptions.AddFlags(fss.FlagSet("query"))
	o.CarStoreOptions.AddFlags(fss.FlagSet("carstore"))
	o.ReportOptions.AddFlags(fss.FlagSet("report"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.HistoryOptions.AddFlags(fss.FlagSet("history"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.RefreshOptions.AddFlags(fss.FlagSet("refresh"))
	o.Log.AddFlags(fss.FlagSet("log"))

	fss.FlagSet("global").StringVarP(&o.Output, "output", "o", o.Output, "Output format: table, json or yaml.")
	return fss
}

func (o *Options) Complete() error {
	return nil
}

func (o *Options) Validate() error {
	errs := []error{}
	errs = append(errs, o.QueryOptions.Validate()...)
	errs = append(errs, o.CarStoreOptions.Validate()...)
	errs = append(errs, o.ReportOptions.Validate()...)
	if o.ReportOptions.Publish {
		errs = append(errs, o.MqttOptions.Validate()...)
	}
	if o.ReportOptions.Archive {
		errs = append(errs, o.S3Options.Validate()...)
	}
	errs = append(errs, o.HistoryOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.RefreshOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	if !slices.Contains(outputFormats, o.Output) {
		errs = append(errs, fmt.Errorf("--output must be one of %v", outputFormats))
	}
	return utilerrors.NewAggregate(errs)
}

func (o *Options) Config() (*carthingy.Config, error) {
	return &carthingy.Config{
		QueryOptions:    o.QueryOptions,
		CarStoreOptions: o.CarStoreOptions,
		ReportOptions:   o.ReportOptions,
		MqttOptions:     o.MqttOptions,
		S3Options:       o.S3Options,
		HistoryOptions:  o.HistoryOptions,
		HttpOptions:     o.HttpOptions,
		RefreshOptions:  o.RefreshOptions,
	}, nil
}
