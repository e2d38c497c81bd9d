package ddl

import (
	"fmt"
	"strings"
)

// SequenceResetChannel is the notification channel the reset block reports
// its count on. A DO block has no return-value path to the caller, so the
// touched-sequence count travels out-of-band via pg_notify.
const SequenceResetChannel = "seqs"

// ReloidsTable is the temp table restricting the reset to the current
// run's tables.
const ReloidsTable = "pgloader_reloids"

// ReloidsTempTable renders the temp table holding the OIDs of the tables
// in scope. Temp tables are session-local, so concurrent runs on separate
// connections never see each other's restriction set.
func ReloidsTempTable(oids []uint32) string {
	values := make([]string, 0, len(oids))
	for _, oid := range oids {
		values = append(values, fmt.Sprintf("(%d::oid)", oid))
	}
	return fmt.Sprintf("CREATE TEMP TABLE %s(oid) AS VALUES %s", ReloidsTable, strings.Join(values, ", "))
}

// ResetSequencesSQL renders a single atomic DO block that, for every
// column whose default is a nextval() expression, sets the backing
// sequence to greatest(max(column), 1). With restricted=true only tables
// whose OID appears in the reloids temp table are considered. The block
// notifies the number of sequences it touched; zero is a valid
// notification, distinct from no notification at all.
func ResetSequencesSQL(restricted bool) string {
	restriction := ""
	if restricted {
		restriction = fmt.Sprintf("\n              and c.oid in (select oid from %s)", ReloidsTable)
	}
	return fmt.Sprintf(`DO $body$
DECLARE
  n integer := 0;
  r record;
BEGIN
  FOR r in
       SELECT 'select '
               || trim(trailing ')' from replace(pg_get_expr(d.adbin, d.adrelid), 'nextval', 'setval'))
               || ', (select greatest(max(' || quote_ident(a.attname) || '), 1) from only '
               || quote_ident(nspname) || '.' || quote_ident(relname) || '));' as sql
         FROM pg_class c
              JOIN pg_namespace n on n.oid = c.relnamespace
              JOIN pg_attribute a on c.oid = a.attrelid
              JOIN pg_attrdef d on d.adrelid = a.attrelid
                               and d.adnum = a.attnum
                               and a.atthasdef
        WHERE relkind = 'r' and a.attnum > 0
              and pg_get_expr(d.adbin, d.adrelid) ~ '^nextval'%s
  LOOP
    n := n + 1;
    EXECUTE r.sql;
  END LOOP;

  PERFORM pg_notify('%s', n::text);
END;
$body$;`, restriction, SequenceResetChannel)
}
