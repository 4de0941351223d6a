package sqlinline

const QCreateJobSchema = `--sql e22f52a5-e791-42f7-b09e-5424b8adb571
create table if not exists svg_generation_jobs (
    id             uuid primary key,
    owner_id       text not null,
    status         text not null,
    prompt         text not null,
    style          text not null,
    model          text not null,
    privacy        text not null,
    generation_id  uuid unique,
    svg            text,
    error_code     text,
    error_message  text,
    created_at     timestamptz not null default now(),
    updated_at     timestamptz not null default now()
);
create index if not exists svg_generation_jobs_queue_idx
    on svg_generation_jobs (status, created_at);
`

const QInsertJob = `--sql d27869f9-a76d-42c8-b42f-c6ceb51e9de1
insert into svg_generation_jobs (id, owner_id, status, prompt, style, model, privacy, created_at, updated_at)
values ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $8);
`

const QGetJob = `--sql 314d67f9-a9fb-448a-b678-837f74039b21
select id::text, owner_id, status, prompt, style, model, privacy,
       generation_id::text, svg, error_code, error_message, created_at, updated_at
from svg_generation_jobs
where id = $1::uuid;
`

const QGetGeneration = `--sql cec7452f-43a8-455f-9275-976283f375a1
select id::text, owner_id, status, prompt, style, model, privacy,
       generation_id::text, svg, error_code, error_message, created_at, updated_at
from svg_generation_jobs
where generation_id = $1::uuid and status = 'SUCCEEDED';
`

// QUpdateJobStatus keeps the stored error and generation when the new values are null.
const QUpdateJobStatus = `--sql e11b8e24-f2f2-4d92-82ef-d8eb8febd365
update svg_generation_jobs
set status        = $2,
    error_code    = coalesce($3, error_code),
    error_message = coalesce($4, error_message),
    generation_id = coalesce($5::uuid, generation_id),
    svg           = coalesce($6, svg),
    updated_at    = now()
where id = $1::uuid;
`

const QClaimQueuedJob = `--sql 670b9722-2e8f-4a78-95d9-c1e6bedab48f
with next_job as (
    select id
    from svg_generation_jobs
    where status = 'QUEUED'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update svg_generation_jobs
    set status = 'RUNNING', updated_at = now()
    where id in (select id from next_job)
    returning id::text, owner_id, status, prompt, style, model, privacy,
              generation_id::text, svg, error_code, error_message, created_at, updated_at
)
select * from updated;
`
