package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/correlator-io/openlineage-playground/internal/emitter"
	"github.com/correlator-io/openlineage-playground/internal/scenarios"
	"github.com/correlator-io/openlineage-playground/internal/sqllineage"
	"github.com/correlator-io/openlineage-playground/internal/transport"
)

type sqlCommand struct {
	global *globalOptions

	dialect       string
	defaultSchema string

	emit       bool
	configPath string
	namespace  string
	jobName    string
}

func newSQLCmd(global *globalOptions) *cobra.Command {
	sql := &sqlCommand{global: global}

	cmd := &cobra.Command{
		Use:   "sql [file]",
		Short: "Extract table and column lineage from a SQL script",
		Long: heredoc.Doc(`
			Split the script into statements and print the tables each one reads
			and writes, followed by the column lineage. Reads stdin when no file
			is given or the file is "-".

			With --emit the script is also sent as a job with one child job per
			statement, the way the big-sql-query scenario does.
		`),
		Example: heredoc.Doc(`
			$ olplay sql ./transform.sql --dialect snowflake --default-schema PATTERN_DB.DATA_SCIENCE_STAGE
			$ cat transform.sql | olplay sql --emit --namespace snowflake://acme --job nightly_transform
		`),
		Args: cobra.MaximumNArgs(1),
		RunE: sql.RunE,
	}

	cmd.Flags().StringVar(&sql.dialect, "dialect", string(sqllineage.DialectPostgres), "SQL dialect: postgres or snowflake")
	cmd.Flags().StringVar(&sql.defaultSchema, "default-schema", "", "schema (optionally database.schema) for unqualified tables")
	cmd.Flags().BoolVar(&sql.emit, "emit", false, "emit the script's lineage events")
	cmd.Flags().StringVarP(&sql.configPath, "config", "c", "", "transport config file used with --emit")
	cmd.Flags().StringVar(&sql.namespace, "namespace", "sql", "job and dataset namespace used with --emit")
	cmd.Flags().StringVar(&sql.jobName, "job", "sql_script", "job name used with --emit")

	return cmd
}

func (s *sqlCommand) RunE(cmd *cobra.Command, args []string) error {
	dialect := sqllineage.Dialect(strings.ToLower(s.dialect))
	if dialect != sqllineage.DialectPostgres && dialect != sqllineage.DialectSnowflake {
		return fmt.Errorf("invalid --dialect %q (want postgres or snowflake)", s.dialect)
	}

	script, err := readScript(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	opts := sqllineage.Options{Dialect: dialect, DefaultSchema: s.defaultSchema}
	extractor := sqllineage.NewPGQueryExtractor()

	if s.emit {
		return s.emitScript(cmd, extractor, script, opts)
	}

	statements, err := sqllineage.SplitStatements(script)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	tables := tablewriter.NewWriter(out)
	tables.SetBorder(false)
	tables.SetAutoWrapText(false)
	tables.SetAlignment(tablewriter.ALIGN_LEFT)
	tables.SetHeader([]string{"#", "Reads", "Writes"})

	columns := tablewriter.NewWriter(out)
	columns.SetBorder(false)
	columns.SetAutoWrapText(false)
	columns.SetAlignment(tablewriter.ALIGN_LEFT)
	columns.SetHeader([]string{"#", "Column", "Derived From", "Transform"})

	for i, stmt := range statements {
		result, err := extractor.Extract(stmt, opts)
		if err != nil {
			s.global.logger.Warn("Statement skipped", "index", i, "error", err.Error())
			tables.Append([]string{fmt.Sprint(i), "unparsed: " + err.Error(), ""})

			continue
		}

		tables.Append([]string{fmt.Sprint(i), joinTables(result.InTables), joinTables(result.OutTables)})

		for _, cl := range result.ColumnLineage {
			from := make([]string, len(cl.Lineage))
			for j, c := range cl.Lineage {
				from[j] = c.String()
			}

			columns.Append([]string{fmt.Sprint(i), cl.Descendant.String(), strings.Join(from, ", "), string(cl.Transform)})
		}
	}

	tables.Render()

	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}

	columns.Render()

	return nil
}

func (s *sqlCommand) emitScript(cmd *cobra.Command, extractor sqllineage.Extractor, script string, opts sqllineage.Options) error {
	cfg, err := loadTransportConfig(s.configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	tr, err := transport.New(ctx, cfg,
		transport.WithConsoleWriter(cmd.OutOrStdout()),
		transport.WithLogger(s.global.logger),
	)
	if err != nil {
		return fmt.Errorf("build %s transport: %w", cfg.Transport.Type, err)
	}

	defer closeTransport(tr, s.global.logger)

	em := emitter.New(tr, emitter.WithLogger(s.global.logger))

	return scenarios.RunSQLScript(ctx, em, extractor, scenarios.SQLScript{
		Namespace: s.namespace,
		JobName:   s.jobName,
		Script:    script,
		Options:   opts,
	})
}

func readScript(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)

	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}

	if err != nil {
		return "", fmt.Errorf("read sql: %w", err)
	}

	return string(data), nil
}

func joinTables(tables []sqllineage.Table) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.QualifiedName()
	}

	return strings.Join(names, ", ")
}
