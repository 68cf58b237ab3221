package sqlinline

// jobColumns is the projection shared by every job read; the repo scans in
// this order.
const jobColumns = `
    id::text,
    product_id,
    created_by,
    status,
    current_step,
    progress,
    attempts,
    max_attempts,
    next_retry_at,
    coalesce(provider, ''),
    input_data,
    output_data,
    coalesce(last_error, ''),
    created_at,
    updated_at,
    started_at,
    completed_at`

const QInsertJob = `--sql a47b1166-d9f7-4e59-9efa-c2c1d2d8fa7b
insert into processing_jobs (
    id,
    product_id,
    created_by,
    status,
    current_step,
    progress,
    attempts,
    max_attempts,
    input_data,
    created_at,
    updated_at
)
values (
    $1::uuid,
    $2::text,
    $3::text,
    $4::text,
    $5::text,
    $6::int,
    0,
    $7::int,
    coalesce($8::jsonb, '{}'::jsonb),
    now(),
    now()
)
returning created_at, updated_at;
`

const QSelectJob = `--sql ca63cedf-bfb7-4ed5-be55-f157877c0aae
select` + jobColumns + `
from processing_jobs
where id = $1::uuid;
`

// QUpdateJobProgress applies a partial update. Empty strings and
// non-positive progress leave the column untouched. Moving into processing
// resets progress and stamps started_at; otherwise progress never moves
// backwards. When $6 is set the row only changes if its status still
// matches, which makes the claim a compare-and-set.
const QUpdateJobProgress = `--sql c820a0a1-6df6-438e-82a7-624d5be2ad2c
update processing_jobs
set
    status = coalesce(nullif($2::text, ''), status),
    current_step = coalesce(nullif($3::text, ''), current_step),
    progress = case
        when $4::int <= 0 then progress
        when nullif($2::text, '') = 'processing' then $4::int
        else greatest(progress, $4::int)
    end,
    provider = coalesce(nullif($5::text, ''), provider),
    started_at = case
        when nullif($2::text, '') = 'processing' then now()
        else started_at
    end,
    next_retry_at = case
        when nullif($2::text, '') = 'processing' then null
        else next_retry_at
    end,
    updated_at = now()
where id = $1::uuid
  and (nullif($6::text, '') is null or status = $6::text)
returning status;
`

const QIncrementJobAttempt = `--sql db927d51-8a4c-45c2-b434-fe86d965c06c
update processing_jobs
set
    attempts = attempts + 1,
    status = 'failed',
    last_error = $2::text,
    next_retry_at = now() + make_interval(secs => $3::double precision),
    updated_at = now()
where id = $1::uuid
returning attempts, max_attempts;
`

const QCompleteJob = `--sql 53d16868-50b2-4817-b1c8-9a4e1cc7771b
update processing_jobs
set
    status = 'completed',
    current_step = 'done',
    progress = 100,
    output_data = $2::jsonb,
    next_retry_at = null,
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

// QFailJob marks the job terminally failed by exhausting its attempts.
const QFailJob = `--sql 94a52b04-69e9-4ac7-83d7-aeabe136c886
update processing_jobs
set
    status = 'failed',
    attempts = greatest(attempts, max_attempts),
    last_error = $2::text,
    next_retry_at = null,
    updated_at = now()
where id = $1::uuid
  and status <> 'completed';
`

const QNextEligibleJob = `--sql cf719f73-e09d-4b71-9f0c-c52bafc8b25f
select` + jobColumns + `
from processing_jobs
where status = 'queued'
   or (
        status = 'failed'
    and attempts < max_attempts
    and (next_retry_at is null or next_retry_at <= now())
   )
order by
    case when status = 'queued' then 0 else 1 end,
    created_at asc
limit 1;
`

const QListJobsByUser = `--sql 0df18125-066d-4e2e-898f-0e3cf77b1f21
select` + jobColumns + `
from processing_jobs
where created_by = $1::text
order by created_at desc
limit $2::int;
`
